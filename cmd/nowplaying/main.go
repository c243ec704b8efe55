package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"nowplaying/internal/config"
	"nowplaying/internal/crypto"
	"nowplaying/internal/gateway"
	"nowplaying/internal/httputil"
	"nowplaying/internal/logging"
	"nowplaying/internal/poller"
	"nowplaying/internal/server"
	"nowplaying/internal/spotify"
	"nowplaying/internal/store"
	"nowplaying/internal/tokens"
	"nowplaying/internal/tracker"
	"nowplaying/internal/version"
	"nowplaying/migrations"
)

// credentialStore is satisfied by both the SQLite and the Redis store.
type credentialStore interface {
	tokens.SecretStore
	server.CredentialStore
	server.AuthorizationLog
	io.Closer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logging.Init(cfg.EffectiveLogLevel(), cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc, err := newEncryptor(cfg)
	if err != nil {
		log.Fatalf("initializing token encryption: %v", err)
	}
	if enc == nil {
		slog.Warn("refresh tokens are stored unencrypted; set TOKEN_ENCRYPTION_KEY or TOKEN_PASSPHRASE")
	}

	secrets, err := openStore(ctx, cfg, enc)
	if err != nil {
		log.Fatalf("opening credential store: %v", err)
	}
	defer secrets.Close()

	sp := spotify.New(spotify.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.CallbackURL,
	}, spotify.WithHTTPClient(httputil.NewClient()))

	creds := tokens.New(secrets, sp)
	lookup := tracker.NewLookup(creds, sp)
	registry := tracker.NewRegistry(lookup)

	p := poller.New(registry, lookup, cfg.UpdateInterval)
	gw := gateway.NewHandler(registry)

	srv := server.NewServer(secrets,
		server.WithCORSOrigin(cfg.CORSOrigin),
		server.WithAuthorizer(sp),
		server.WithAuthorizationLog(secrets),
		server.WithTracker(registry, lookup),
		server.WithGateway(gw),
	)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("nowplaying listening", "version", version.Version, "addr", cfg.ListenAddr(), "update_interval", cfg.UpdateInterval)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		p.Start(gctx)
		<-gctx.Done()
		p.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func newEncryptor(cfg *config.Config) (*crypto.Encryptor, error) {
	switch {
	case cfg.TokenEncryptionKey != "":
		return crypto.NewEncryptor(cfg.TokenEncryptionKey)
	case cfg.TokenPassphrase != "":
		return crypto.NewEncryptorFromPassphrase(cfg.TokenPassphrase)
	}
	return nil, nil
}

func openStore(ctx context.Context, cfg *config.Config, enc *crypto.Encryptor) (credentialStore, error) {
	if cfg.RedisURL != "" {
		slog.Info("using redis credential store")
		r, err := store.NewRedis(ctx, cfg.RedisURL, enc)
		if err != nil {
			return nil, err
		}
		return r, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, err
	}
	var opts []store.Option
	if enc != nil {
		opts = append(opts, store.WithEncryptor(enc))
	}
	s, err := store.New(cfg.DBPath, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.MigrateFS(migrationsFS(cfg.MigrationsDir)); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// migrationsFS prefers an on-disk migrations directory and falls back to the
// copy embedded in the binary.
func migrationsFS(dir string) fs.FS {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return os.DirFS(dir)
	}
	return migrations.FS
}
