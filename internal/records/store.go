package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"portal-conductor/internal/domain"
)

// UserRecord is the portal-side bookkeeping attached to one account.
type UserRecord struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	CreatedAt     time.Time `json:"created_at"`
	Emails        []string  `json:"emails"`
	MailingLists  []string  `json:"mailing_lists"`
	Services      []string  `json:"services"`
	FormCount     int       `json:"form_count"`
}

// Store reads and writes the auxiliary records database.
type Store struct {
	db *sql.DB
}

// NewStore wraps an opened records database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureUser creates the user row if absent and returns its id.
func (s *Store) EnsureUser(ctx context.Context, username string) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username) VALUES (?) ON CONFLICT(username) DO NOTHING`, username)
	if err != nil {
		return 0, mapDBError(err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE username = ?`, username).Scan(&id)
	if err != nil {
		return 0, mapDBError(err)
	}
	return id, nil
}

// AddEmail records an address for the user. Recording the same address
// twice is a no-op.
func (s *Store) AddEmail(ctx context.Context, username, email string, primary bool) error {
	id, err := s.EnsureUser(ctx, username)
	if err != nil {
		return err
	}
	flag := 0
	if primary {
		flag = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO email_addresses (user_id, email, is_primary) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, email) DO UPDATE SET is_primary = excluded.is_primary`,
		id, strings.ToLower(email), flag)
	return mapDBError(err)
}

// AddSubscription records a mailing-list membership for the user.
func (s *Store) AddSubscription(ctx context.Context, username, list string) error {
	id, err := s.EnsureUser(ctx, username)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mailing_list_subscriptions (user_id, list_name) VALUES (?, ?)
		 ON CONFLICT(user_id, list_name) DO NOTHING`, id, list)
	return mapDBError(err)
}

// AddServiceRegistration records that a third-party service was granted
// access to the user's data.
func (s *Store) AddServiceRegistration(ctx context.Context, username, service, path string) error {
	id, err := s.EnsureUser(ctx, username)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO service_registrations (user_id, service_name, path) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, service_name) DO UPDATE SET path = excluded.path`,
		id, service, path)
	return mapDBError(err)
}

// AddFormSubmission records an intake form payload for the user.
func (s *Store) AddFormSubmission(ctx context.Context, username, form, payload string) error {
	id, err := s.EnsureUser(ctx, username)
	if err != nil {
		return err
	}
	if payload == "" {
		payload = "{}"
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO form_submissions (user_id, form_name, payload) VALUES (?, ?, ?)`,
		id, form, payload)
	return mapDBError(err)
}

// GetUser loads the full record for a username.
func (s *Store) GetUser(ctx context.Context, username string) (*UserRecord, error) {
	rec := &UserRecord{Username: username}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM users WHERE username = ?`, username).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("no records for user %s", username)
		}
		return nil, mapDBError(err)
	}

	var qerr error
	rec.Emails, qerr = s.stringColumn(ctx,
		`SELECT email FROM email_addresses WHERE user_id = ? ORDER BY is_primary DESC, email`, rec.ID)
	if qerr != nil {
		return nil, qerr
	}
	rec.MailingLists, qerr = s.stringColumn(ctx,
		`SELECT list_name FROM mailing_list_subscriptions WHERE user_id = ? ORDER BY list_name`, rec.ID)
	if qerr != nil {
		return nil, qerr
	}
	rec.Services, qerr = s.stringColumn(ctx,
		`SELECT service_name FROM service_registrations WHERE user_id = ? ORDER BY service_name`, rec.ID)
	if qerr != nil {
		return nil, qerr
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM form_submissions WHERE user_id = ?`, rec.ID).Scan(&rec.FormCount)
	if err != nil {
		return nil, mapDBError(err)
	}
	return rec, nil
}

// DeleteUser removes every row belonging to the user in one transaction,
// children first to satisfy the foreign keys. Deleting a user with no
// records is a no-op.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapDBError(err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE username = ?`, username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return mapDBError(err)
	}

	for _, table := range []string{
		"form_submissions", "service_registrations",
		"mailing_list_subscriptions", "email_addresses",
	} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE user_id = ?`, table), id); err != nil {
			return mapDBError(err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return mapDBError(err)
	}
	return tx.Commit()
}

func (s *Store) stringColumn(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, mapDBError(err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func mapDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrNotFound("record not found")
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return domain.ErrConflict("record already exists")
	default:
		return fmt.Errorf("records db: %w", err)
	}
}
