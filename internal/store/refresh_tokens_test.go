package store

import (
	"context"
	"testing"
)

func TestRefreshToken_Missing(t *testing.T) {
	s := newTestStoreWithMigrations(t)

	token, err := s.GetRefreshToken(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}
}

func TestRefreshToken_RoundtripPlaintext(t *testing.T) {
	s := newTestStoreWithMigrations(t)
	ctx := context.Background()

	if err := s.SetRefreshToken(ctx, "alice", "rt-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	token, err := s.GetRefreshToken(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if token != "rt-1" {
		t.Fatalf("expected %q, got %q", "rt-1", token)
	}
}

func TestRefreshToken_Upsert(t *testing.T) {
	s := newTestStoreWithMigrations(t)
	ctx := context.Background()

	s.SetRefreshToken(ctx, "bob", "old")
	s.SetRefreshToken(ctx, "bob", "new")

	token, _ := s.GetRefreshToken(ctx, "bob")
	if token != "new" {
		t.Fatalf("expected %q, got %q", "new", token)
	}
}

func TestRefreshToken_Delete(t *testing.T) {
	s := newTestStoreWithMigrations(t)
	ctx := context.Background()

	s.SetRefreshToken(ctx, "carol", "rt")
	if err := s.DeleteRefreshToken(ctx, "carol"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	token, _ := s.GetRefreshToken(ctx, "carol")
	if token != "" {
		t.Fatalf("expected token deleted, got %q", token)
	}

	if err := s.DeleteRefreshToken(ctx, "carol"); err != nil {
		t.Fatalf("deleting a missing token should not fail: %v", err)
	}
}

func TestRefreshToken_StoredAsCiphertext(t *testing.T) {
	s := newTestStoreWithMigrations(t, WithEncryptor(testEncryptor(t)))
	ctx := context.Background()

	plaintext := "my-secret-refresh-token"
	if err := s.SetRefreshToken(ctx, "dave", plaintext); err != nil {
		t.Fatal(err)
	}

	var raw string
	var encrypted bool
	if err := s.db.QueryRow(`SELECT token, encrypted FROM refresh_tokens WHERE user_id = ?`, "dave").Scan(&raw, &encrypted); err != nil {
		t.Fatal(err)
	}
	if raw == plaintext {
		t.Fatal("token stored in plaintext")
	}
	if !encrypted {
		t.Fatal("expected encrypted flag")
	}

	token, err := s.GetRefreshToken(ctx, "dave")
	if err != nil {
		t.Fatal(err)
	}
	if token != plaintext {
		t.Fatalf("expected %q, got %q", plaintext, token)
	}
}

func TestRefreshToken_EncryptedWithoutKey(t *testing.T) {
	enc := testEncryptor(t)
	s := newTestStoreWithMigrations(t, WithEncryptor(enc))
	ctx := context.Background()

	if err := s.SetRefreshToken(ctx, "erin", "rt"); err != nil {
		t.Fatal(err)
	}
	s.encryptor = nil

	if _, err := s.GetRefreshToken(ctx, "erin"); err == nil {
		t.Fatal("expected error reading encrypted token without a key")
	}
}
