package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Authorization records who authorized the application and when.
type Authorization struct {
	UserID       string
	DisplayName  string
	AuthorizedAt time.Time
}

// RecordAuthorization upserts the authorization row for a user after a
// successful code exchange.
func (s *Store) RecordAuthorization(ctx context.Context, userID, displayName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authorizations (user_id, display_name, authorized_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET display_name = excluded.display_name, authorized_at = excluded.authorized_at`,
		userID, displayName, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording authorization: %w", err)
	}
	return nil
}

// GetAuthorization returns nil (no error) when the user never authorized.
func (s *Store) GetAuthorization(ctx context.Context, userID string) (*Authorization, error) {
	var a Authorization
	var authorizedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, display_name, authorized_at FROM authorizations WHERE user_id = ?`, userID,
	).Scan(&a.UserID, &a.DisplayName, &authorizedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting authorization: %w", err)
	}
	a.AuthorizedAt, err = time.Parse(time.RFC3339, authorizedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing authorized_at %q: %w", authorizedAt, err)
	}
	return &a, nil
}
