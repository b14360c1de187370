// Package module defines the capability module contract and the
// registry that owns module instances.
package module

import (
	"context"

	"github.com/stupiduntilnot/officebot/internal/commander"
)

// Module is a pluggable handler offering named capabilities.
type Module interface {
	Name() string
	// Initialize registers the module's commands on mux.
	Initialize(mux commander.Mux) error
	// Process answers free text routed to the module.
	Process(ctx context.Context, userID int64, text string) (string, error)
	Capabilities() []string
}

// Descriptor is the registry's view of a module.
type Descriptor struct {
	Name         string
	Capabilities []string
}
