package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stupiduntilnot/officebot/internal/db"
)

// Employee is one directory entry.
type Employee struct {
	ID         int64
	LastName   string
	FirstName  string
	MiddleName string
	Phone      string
	Email      string
	Position   string
	Department string
}

// StoredCredential is a remote-access credential as persisted, still
// encrypted.
type StoredCredential struct {
	ID                int64
	EncryptedLogin    string
	EncryptedPassword string
	Host              string
	Port              int
}

// Directory is the SQL-backed employee and credential store.
type Directory struct {
	DB *db.DB
}

func NewDirectory(d *db.DB) *Directory {
	return &Directory{DB: d}
}

// AddEmployee inserts e and returns its id.
func (d *Directory) AddEmployee(ctx context.Context, e Employee) (int64, error) {
	var middle any
	if e.MiddleName != "" {
		middle = e.MiddleName
	}
	var id int64
	err := d.DB.QueryRowContext(ctx, d.DB.Rebind(`INSERT INTO employees
		(last_name, last_name_search, first_name, middle_name, phone, email, position, department)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		e.LastName, searchKey(e.LastName), e.FirstName, middle, e.Phone, e.Email, e.Position, e.Department,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert employee: %w", err)
	}
	return id, nil
}

// SearchByLastName returns up to limit employees whose last name
// contains query, case-insensitively.
func (d *Directory) SearchByLastName(ctx context.Context, query string, limit int) ([]Employee, error) {
	pattern := "%" + escapeLike(searchKey(query)) + "%"
	return d.queryEmployees(ctx,
		`SELECT id, last_name, first_name, middle_name, phone, email, position, department
		FROM employees WHERE last_name_search LIKE ? ESCAPE '\' ORDER BY last_name, first_name, id LIMIT ?`,
		pattern, limit)
}

// ListEmployees returns up to limit employees ordered by name.
func (d *Directory) ListEmployees(ctx context.Context, limit int) ([]Employee, error) {
	return d.queryEmployees(ctx,
		`SELECT id, last_name, first_name, middle_name, phone, email, position, department
		FROM employees ORDER BY last_name, first_name, id LIMIT ?`,
		limit)
}

func (d *Directory) queryEmployees(ctx context.Context, query string, args ...any) ([]Employee, error) {
	rows, err := d.DB.QueryContext(ctx, d.DB.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		var (
			e      Employee
			middle sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.LastName, &e.FirstName, &middle, &e.Phone, &e.Email, &e.Position, &e.Department); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		e.MiddleName = middle.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddCredential stores an encrypted credential for the Telegram user,
// creating the user row on first use. Both writes commit together.
func (d *Directory) AddCredential(ctx context.Context, telegramID int64, username string, c StoredCredential) (int64, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	userID, err := d.ensureUser(ctx, tx, telegramID, username)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRowContext(ctx, d.DB.Rebind(`INSERT INTO remote_credentials
		(user_id, encrypted_login, encrypted_password, host, port) VALUES (?, ?, ?, ?, ?) RETURNING id`),
		userID, c.EncryptedLogin, c.EncryptedPassword, c.Host, c.Port,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert credential: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit credential: %w", err)
	}
	return id, nil
}

// Credentials lists the Telegram user's stored credentials.
func (d *Directory) Credentials(ctx context.Context, telegramID int64) ([]StoredCredential, error) {
	rows, err := d.DB.QueryContext(ctx, d.DB.Rebind(`SELECT c.id, c.encrypted_login, c.encrypted_password, c.host, c.port
		FROM remote_credentials c JOIN users u ON c.user_id = u.id
		WHERE u.telegram_id = ? ORDER BY c.id`), telegramID)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var out []StoredCredential
	for rows.Next() {
		var c StoredCredential
		if err := rows.Scan(&c.ID, &c.EncryptedLogin, &c.EncryptedPassword, &c.Host, &c.Port); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *Directory) ensureUser(ctx context.Context, tx *sql.Tx, telegramID int64, username string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, d.DB.Rebind(`SELECT id FROM users WHERE telegram_id = ?`), telegramID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup user: %w", err)
	}
	var name any
	if username != "" {
		name = username
	}
	err = tx.QueryRowContext(ctx, d.DB.Rebind(`INSERT INTO users (telegram_id, username, created_at) VALUES (?, ?, ?) RETURNING id`),
		telegramID, name, time.Now().Unix(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

func searchKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
