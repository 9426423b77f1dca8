package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mohametBa/UniversMurid-sub001/internal/api"
	"github.com/mohametBa/UniversMurid-sub001/internal/auth"
	"github.com/mohametBa/UniversMurid-sub001/internal/config"
	"github.com/mohametBa/UniversMurid-sub001/internal/history"
	"github.com/mohametBa/UniversMurid-sub001/internal/logging"
	"github.com/mohametBa/UniversMurid-sub001/internal/offline"
	"github.com/mohametBa/UniversMurid-sub001/internal/progress"
	"github.com/mohametBa/UniversMurid-sub001/internal/server"
	"github.com/mohametBa/UniversMurid-sub001/internal/stats"
	"github.com/mohametBa/UniversMurid-sub001/internal/stats/memstore"
	"github.com/mohametBa/UniversMurid-sub001/internal/stats/sqlite"
	"github.com/mohametBa/UniversMurid-sub001/internal/vault"
)

//go:embed all:shell
var shellFiles embed.FS

//go:embed precache.toml
var precacheManifest []byte

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("progressd exited", "error", err)
		os.Exit(1)
	}
}

// repository is the stats backend plus its shutdown hook.
type repository struct {
	stats.Repository
	close func() error
}

// openRepository opens the configured backend and, if an import directory is
// set, copies a JSON data directory into it.
func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*repository, error) {
	var repo *repository
	switch cfg.Storage {
	case config.StorageMemory:
		store, err := memstore.Open(filepath.Join(cfg.DataDir, "stats"))
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		repo = &repository{Repository: store, close: func() error {
			store.Wait()
			return nil
		}}
	default:
		sealer, err := cfg.Sealer()
		if err != nil {
			return nil, err
		}
		var opts []sqlite.Option
		if sealer != nil {
			opts = append(opts, sqlite.WithSealer(sealer))
			logger.Info("game state encrypted at rest")
		}
		store, err := sqlite.Open(cfg.DBPath, opts...)
		if err != nil {
			return nil, err
		}
		repo = &repository{Repository: store, close: store.Close}
	}

	if cfg.ImportDir != "" {
		src, err := memstore.Open(cfg.ImportDir)
		if err != nil {
			repo.close()
			return nil, fmt.Errorf("open import dir: %w", err)
		}
		if err := stats.Migrate(ctx, src, repo); err != nil {
			repo.close()
			return nil, fmt.Errorf("import %s: %w", cfg.ImportDir, err)
		}
		logger.Info("imported progress data", "dir", cfg.ImportDir)
	}
	return repo, nil
}

// startOffline installs and activates the embedded shell generation.
func startOffline(ctx context.Context, cfg *config.Config, shell fs.FS, logger *slog.Logger) (*offline.Manager, error) {
	manifest, err := offline.ParseManifest(precacheManifest)
	if err != nil {
		return nil, err
	}
	cache, err := offline.OpenCacheDir(filepath.Join(cfg.DataDir, "offline"))
	if err != nil {
		return nil, fmt.Errorf("open offline cache: %w", err)
	}
	m := offline.NewManager(cache, &offline.FSFetcher{FS: shell}, manifest, logger)
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting progress daemon", "storage", cfg.Storage, "addr", cfg.HTTPAddr)

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.close(); err != nil {
			logger.Error("close repository", "error", err)
		}
		logger.Info("persistence complete")
	}()

	shell, err := fs.Sub(shellFiles, "shell")
	if err != nil {
		return err
	}
	manager, err := startOffline(ctx, cfg, shell, logger)
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	if err != nil {
		return err
	}
	h := &api.Handler{
		Progress: progress.NewService(repo, progress.WithLogger(logger)),
		Reader:   history.NewReader(repo, cfg.HistoryMaxLimit, logger),
		Verifier: verifier,
		Offline:  manager,
	}
	router := server.NewRouter(h, shell)

	if cfg.DisableTLS {
		logger.Info("TLS encryption disabled (PROGRESS_DISABLE_TLS=true)")
	} else {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			return fmt.Errorf("generate TLS certificate: %w", err)
		}
		router.SetCertificate(cert)
		logger.Info("TLS encryption enabled with a self-signed certificate")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- router.Listen(cfg.HTTPAddr) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, finalizing disk writes")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := router.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}
