package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetRefreshToken returns the stored refresh token for userID.
// Returns empty string (no error) if the user never authorized or was revoked.
func (s *Store) GetRefreshToken(ctx context.Context, userID string) (string, error) {
	var (
		token     string
		encrypted bool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, encrypted FROM refresh_tokens WHERE user_id = ?`, userID,
	).Scan(&token, &encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting refresh token: %w", err)
	}

	if !encrypted {
		return token, nil
	}
	if s.encryptor == nil {
		return "", fmt.Errorf("refresh token for %s is encrypted but no key is configured", userID)
	}
	decrypted, err := s.encryptor.Decrypt(token, userID)
	if err != nil {
		return "", fmt.Errorf("decrypting refresh token: %w", err)
	}
	return decrypted, nil
}

// SetRefreshToken stores (or replaces) the refresh token for userID,
// encrypting it when an encryptor is configured.
func (s *Store) SetRefreshToken(ctx context.Context, userID, token string) error {
	value, encrypted := token, false
	if s.encryptor != nil {
		sealed, err := s.encryptor.Encrypt(token, userID)
		if err != nil {
			return fmt.Errorf("encrypting refresh token: %w", err)
		}
		value, encrypted = sealed, true
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token, encrypted, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET token = excluded.token, encrypted = excluded.encrypted, updated_at = excluded.updated_at`,
		userID, value, encrypted, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storing refresh token: %w", err)
	}
	return nil
}

// DeleteRefreshToken forgets the refresh token for userID. Deleting a missing
// token is not an error.
func (s *Store) DeleteRefreshToken(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting refresh token: %w", err)
	}
	return nil
}
