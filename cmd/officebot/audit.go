package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/officebot/internal/config"
	"github.com/stupiduntilnot/officebot/internal/db"
)

type auditOptions struct {
	eventID   int64
	maxDepth  int
	jsonOut   bool
	noPayload bool
}

func newAuditCmd() *cobra.Command {
	var opts auditOptions
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the audit event tree of the latest run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer database.Close()

			rootID := opts.eventID
			if rootID == 0 {
				if rootID, err = db.LatestRun(cmd.Context(), database); err != nil {
					return err
				}
			}
			root, err := db.EventTree(cmd.Context(), database, rootID)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(toJSONEvent(root, 1, opts))
			}
			printTree(cmd.OutOrStdout(), root, "", true, 1, opts)
			return nil
		},
	}
	cmd.Flags().Int64Var(&opts.eventID, "id", 0, "show the subtree of a specific event id")
	cmd.Flags().IntVarP(&opts.maxDepth, "depth", "L", 0, "limit display depth (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "output JSON")
	cmd.Flags().BoolVar(&opts.noPayload, "no-payload", false, "hide payload details")
	return cmd
}

// printTree renders the event tree with box-drawing characters.
func printTree(w io.Writer, ev *db.Event, prefix string, isLast bool, depth int, opts auditOptions) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	line := formatEvent(ev, opts.noPayload)
	if depth == 1 {
		fmt.Fprintln(w, line)
	} else {
		fmt.Fprintln(w, prefix+connector+line)
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	if opts.maxDepth > 0 && depth >= opts.maxDepth {
		if len(ev.Children) > 0 {
			fmt.Fprintln(w, childPrefix+"└── [...]")
		}
		return
	}
	for i, child := range ev.Children {
		printTree(w, child, childPrefix, i == len(ev.Children)-1, depth+1, opts)
	}
}

// formatEvent renders "[id] timestamp  type  key=value ...".
func formatEvent(ev *db.Event, noPayload bool) string {
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%d] %s  %s", ev.ID, ts, ev.Type)
	if noPayload || len(ev.Payload) == 0 {
		return line
	}
	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf("  %s=%s", k, formatValue(ev.Payload[k]))
	}
	return line
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if r := []rune(val); len(r) > 80 {
			return fmt.Sprintf("%q", string(r[:80])+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64          `json:"id"`
	Timestamp int64          `json:"timestamp"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Children  []jsonEvent    `json:"children,omitempty"`
}

func toJSONEvent(ev *db.Event, depth int, opts auditOptions) jsonEvent {
	je := jsonEvent{ID: ev.ID, Timestamp: ev.Timestamp, EventType: ev.Type}
	if !opts.noPayload {
		je.Payload = ev.Payload
	}
	if opts.maxDepth > 0 && depth >= opts.maxDepth {
		return je
	}
	for _, child := range ev.Children {
		je.Children = append(je.Children, toJSONEvent(child, depth+1, opts))
	}
	return je
}
