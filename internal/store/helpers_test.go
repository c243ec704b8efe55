package store

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"nowplaying/internal/crypto"
	"nowplaying/migrations"
)

func newTestStoreWithMigrations(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(":memory:", opts...)
	if err != nil {
		t.Fatalf("New(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.MigrateFS(migrations.FS); err != nil {
		t.Fatalf("MigrateFS() failed: %v", err)
	}
	return s
}

func testEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	enc, err := crypto.NewEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatal(err)
	}
	return enc
}
