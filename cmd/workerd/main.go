package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/kardia-systems/docvault/common"
	"github.com/kardia-systems/docvault/httpserver"
	"github.com/kardia-systems/docvault/interfaces"
	"github.com/kardia-systems/docvault/queue"
	"github.com/kardia-systems/docvault/retry"
	"github.com/kardia-systems/docvault/storage"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "storage-uri",
		Value: "local:///var/lib/docvault",
		Usage: "storage backend URI (local://, s3://, azblob://, sftp://)",
	},
	&cli.StringFlag{
		Name:  "database-url",
		Value: "",
		Usage: "Postgres connection URL; empty runs the in-memory queue",
	},
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for ops API",
	},
	&cli.IntFlag{
		Name:  "workers",
		Value: 4,
		Usage: "number of processing workers",
	},
	&cli.DurationFlag{
		Name:  "poll-interval",
		Value: 2 * time.Second,
		Usage: "idle delay between queue polls",
	},
	&cli.DurationFlag{
		Name:  "stale-timeout",
		Value: queue.DefaultStaleTimeout,
		Usage: "how long a claim may go unreported before it is recovered",
	},
	&cli.DurationFlag{
		Name:  "reap-interval",
		Value: time.Minute,
		Usage: "how often to scan for stale claims",
	},
	&cli.IntFlag{
		Name:  "max-retries",
		Value: queue.DefaultMaxRetries,
		Usage: "processing attempts per document before permanent failure",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: "docvault-workerd",
		Usage: "add 'service' tag to logs",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	app := &cli.App{
		Name:  "workerd",
		Usage: "Run the document processing worker daemon",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   cCtx.Bool("log-debug"),
				JSON:    cCtx.Bool("log-json"),
				Service: cCtx.String("log-service"),
				Version: common.Version,
			})
			if cCtx.Bool("log-uid") {
				id := uuid.Must(uuid.NewRandom())
				logger = logger.With("uid", id.String())
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Storage provider with the standard retry policy.
			factory := storage.NewFactory(logger)
			provider, err := factory.CreateFromURI(cCtx.String("storage-uri"))
			if err != nil {
				logger.Error("Failed to create storage provider", "err", err)
				return err
			}
			retrying := storage.WithRetry(provider, retry.DefaultPolicy())
			logger.Info("Storage provider ready", "backend", provider.Backend(), "name", provider.Name())

			// Queue store: durable when a database is configured.
			storeOpts := queue.Options{MaxRetries: cCtx.Int("max-retries")}
			var store interfaces.QueueStore
			if dbURL := cCtx.String("database-url"); dbURL != "" {
				pool, err := pgxpool.New(ctx, dbURL)
				if err != nil {
					logger.Error("Failed to connect to database", "err", err)
					return err
				}
				defer pool.Close()
				if err := queue.EnsureSchema(ctx, pool); err != nil {
					logger.Error("Failed to ensure schema", "err", err)
					return err
				}
				store = queue.NewPostgresStore(pool, storeOpts)
				logger.Info("Using Postgres queue store")
			} else {
				store = queue.NewMemoryStore(storeOpts)
				logger.Warn("No database configured, using in-memory queue store")
			}

			manager := queue.NewManager(store, logger)

			pool := queue.NewPool(manager, verifyDocument(retrying), queue.PoolConfig{
				Workers:      cCtx.Int("workers"),
				PollInterval: cCtx.Duration("poll-interval"),
			}, logger)

			reaper := queue.NewReaper(store, queue.ReaperConfig{
				StaleTimeout: cCtx.Duration("stale-timeout"),
				Interval:     cCtx.Duration("reap-interval"),
			}, logger)

			srv := httpserver.New(&httpserver.HTTPServerConfig{
				ListenAddr:               cCtx.String("listen-addr"),
				EnablePprof:              cCtx.Bool("pprof"),
				Log:                      logger,
				DrainDuration:            time.Duration(cCtx.Int64("drain-seconds")) * time.Second,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              10 * time.Second,
				WriteTimeout:             10 * time.Second,
			}, manager)

			pool.Start(ctx)
			reaper.Start(ctx)
			srv.RunInBackground()

			<-ctx.Done()
			logger.Info("Shutting down")
			srv.Shutdown()
			reaper.Stop()
			pool.Stop()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// verifyDocument is the default processing step: re-read the stored artifact
// and check it against the checksums recorded at upload time.
func verifyDocument(provider interfaces.StorageProvider) queue.ProcessFunc {
	return func(ctx context.Context, doc *interfaces.Document) error {
		data, err := provider.Download(ctx, doc.Location.Path)
		if err != nil {
			return fmt.Errorf("download %s: %w", doc.Location.Path, err)
		}

		digest := storage.DigestBytes(data)
		if doc.ChecksumMD5 != "" && digest.MD5 != doc.ChecksumMD5 {
			return interfaces.NewStorageError(interfaces.ErrCodeChecksum, "verify", doc.Location.Path,
				fmt.Errorf("md5 %s does not match recorded %s", digest.MD5, doc.ChecksumMD5))
		}
		if doc.ChecksumSHA256 != "" && digest.SHA256 != doc.ChecksumSHA256 {
			return interfaces.NewStorageError(interfaces.ErrCodeChecksum, "verify", doc.Location.Path,
				fmt.Errorf("sha256 %s does not match recorded %s", digest.SHA256, doc.ChecksumSHA256))
		}
		return nil
	}
}
