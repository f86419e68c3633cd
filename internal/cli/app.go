// Package cli is the interactive shell over the vault service: enrollment,
// unlock, entry management, TOTP provisioning and passphrase rotation.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/config"
	"github.com/dmitrijs2005/vaultguard/internal/logging"
	"github.com/dmitrijs2005/vaultguard/internal/store"
	"github.com/dmitrijs2005/vaultguard/internal/store/postgres"
	"github.com/dmitrijs2005/vaultguard/internal/store/s3blob"
	"github.com/dmitrijs2005/vaultguard/internal/store/sqlite"
	"github.com/dmitrijs2005/vaultguard/internal/tags"
	"github.com/dmitrijs2005/vaultguard/internal/vault"
)

// nowFn is a test seam for the idle-lock clock.
var nowFn = time.Now

// App wires the vault service to an interactive terminal session.
type App struct {
	config       *config.Config
	service      *vault.Service
	session      *vault.Session
	userID       string
	reader       *bufio.Reader
	closeFn      func() error
	lastActivity time.Time
}

// NewApp opens the configured record store, runs migrations and builds the
// vault service. The returned App owns the store handle; Run closes it.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	var (
		recordStore store.Store
		tagStore    tags.Store
		closeFn     func() error
	)

	switch cfg.StorageDriver {
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error initializing sqlite store: %w", err)
		}
		recordStore, tagStore, closeFn = st, st, st.Close
	case "postgres":
		st, err := postgres.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error initializing postgres store: %w", err)
		}
		recordStore, tagStore, closeFn = st, st, st.Close
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.StorageDriver)
	}

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	opts := []vault.Option{vault.WithLogger(logger)}
	if cfg.S3BaseEndpoint != "" {
		blobs, err := s3blob.New(ctx, s3blob.Config{
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
		})
		if err != nil {
			closeFn()
			return nil, fmt.Errorf("error initializing blob store: %w", err)
		}
		opts = append(opts, vault.WithBlobStore(blobs))
	}

	service := vault.New(store.NewRetryingStore(recordStore), tagStore, opts...)

	return &App{
		config:       cfg,
		service:      service,
		reader:       bufio.NewReader(os.Stdin),
		closeFn:      closeFn,
		lastActivity: nowFn(),
	}, nil
}

func (a *App) isUnlocked() bool {
	return a.session != nil
}

// Run drives the REPL until the user exits, then releases the store.
func (a *App) Run(ctx context.Context) {
	defer a.closeFn()
	defer a.lockSession()

	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.status, scanner)
}

func (a *App) status() string {
	if a.isUnlocked() {
		return a.userID
	}
	return "locked"
}

// maybeAutoLock locks the session when the gap since the previous command
// exceeds the configured idle interval. Called by the REPL before each
// dispatch; a zero or negative interval disables auto-locking.
func (a *App) maybeAutoLock() {
	now := nowFn()
	idle := now.Sub(a.lastActivity)
	a.lastActivity = now

	if a.session == nil || a.config.AutoLockAfter <= 0 {
		return
	}
	if idle >= a.config.AutoLockAfter {
		a.lockSession()
		printlnFn("Session locked after inactivity. Use unlock to continue.")
	}
}

func (a *App) lockSession() {
	if a.session != nil {
		a.session.Lock()
		a.session = nil
		a.userID = ""
	}
}
