package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata" // Run timezones must resolve on minimal images

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/csvimport/internal/acl"
	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/logging"
	"github.com/JonMunkholm/csvimport/internal/schema"
	"github.com/JonMunkholm/csvimport/internal/store/postgres"
	"github.com/JonMunkholm/csvimport/internal/store/s3blob"
	"github.com/JonMunkholm/csvimport/internal/web"
	"github.com/JonMunkholm/csvimport/internal/worker"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"storage", cfg.Storage.Backend,
	)

	if err := run(cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	entities, err := loadSchema(cfg.Schema.File)
	if err != nil {
		return err
	}
	slog.Info("entity types registered", "entities", entities.Names())

	checker, err := acl.Load(cfg.Security.ACLFile)
	if err != nil {
		return err
	}

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	blobs, err := newBlobStore(ctx, cfg, postgres.NewAttachmentStore(pool))
	if err != nil {
		return err
	}

	records := postgres.NewRecordStore(pool)
	importer, err := core.NewImporter(core.Deps{
		Records:         records,
		Runs:            postgres.NewRunRepository(pool),
		Schema:          entities,
		ACL:             checker,
		Blobs:           blobs,
		Principals:      checker,
		DefaultCurrency: cfg.Import.DefaultCurrency,
		MaxFileSize:     cfg.Import.MaxFileSize,
	})
	if err != nil {
		return err
	}

	queue, err := worker.New(importer, worker.Config{
		Concurrency: cfg.Import.WorkerConcurrency,
		JobTimeout:  cfg.Import.IdleJobTimeout,
		StopTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return err
	}
	importer.SetJobQueue(queue)

	// Idle runs queued before the last shutdown only survive in the database.
	requeued, err := importer.RequeuePending(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		slog.Info("requeued pending imports", "runs", requeued)
	}

	if cfg.Import.HistoryPruneInterval > 0 && cfg.Import.HistoryRetention > 0 {
		err := queue.Every("prune-history", cfg.Import.HistoryPruneInterval, func(ctx context.Context) error {
			n, err := records.PruneHistory(ctx, cfg.Import.HistoryRetention)
			if err != nil {
				return err
			}
			if n > 0 {
				slog.Info("pruned record history", "rows", n)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	queue.Start()

	server := web.NewServer(importer, checker, cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		if qerr := queue.Shutdown(); qerr != nil {
			slog.Warn("worker queue did not stop cleanly", "error", qerr)
		}
		return err
	})

	return g.Wait()
}

func loadSchema(path string) (*schema.Registry, error) {
	if path == "" {
		return schema.Default()
	}
	return schema.Load(path)
}

// newBlobStore returns the configured attachment storage. Postgres keeps the
// file next to the run; S3 is used for large or shared deployments.
func newBlobStore(ctx context.Context, cfg *config.Config, pg core.BlobStore) (core.BlobStore, error) {
	if cfg.Storage.Backend != config.StorageS3 {
		return pg, nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, err := s3blob.New(initCtx, s3blob.Config{
		Bucket:    cfg.Storage.S3Bucket,
		Region:    cfg.Storage.S3Region,
		Endpoint:  cfg.Storage.S3Endpoint,
		AccessKey: cfg.Storage.S3AccessKey,
		SecretKey: cfg.Storage.S3SecretKey,
		Prefix:    cfg.Storage.S3Prefix,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("storing attachments in S3", "bucket", cfg.Storage.S3Bucket)
	return store, nil
}
