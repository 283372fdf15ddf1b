package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/kardia-systems/docvault/common"
	"github.com/kardia-systems/docvault/interfaces"
	"github.com/kardia-systems/docvault/queue"
	"github.com/kardia-systems/docvault/retry"
	"github.com/kardia-systems/docvault/storage"
)

var flagStorageURI *cli.StringFlag = &cli.StringFlag{
	Name:    "storage-uri",
	Value:   "local:///var/lib/docvault",
	EnvVars: []string{"DOCVAULT_STORAGE_URI"},
	Usage:   "storage backend URI (local://, s3://, azblob://, sftp://)",
}
var flagLogDebug *cli.BoolFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var flagNoRetry *cli.BoolFlag = &cli.BoolFlag{
	Name:  "no-retry",
	Value: false,
	Usage: "disable automatic retries on transient errors",
}

func main() {
	app := &cli.App{
		Name:  "docvault",
		Usage: "Operate on stored documents directly",
		Flags: []cli.Flag{
			flagStorageURI,
			flagLogDebug,
			flagNoRetry,
		},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "Upload a local file to <remote path>",
				ArgsUsage: "<file> <remote path>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "content-type", Value: "", Usage: "stored Content-Type"},
					&cli.BoolFlag{Name: "no-overwrite", Value: false, Usage: "fail if the destination exists"},
				},
				Action: withProvider(func(ctx context.Context, p interfaces.StorageProvider, cCtx *cli.Context) error {
					if cCtx.NArg() != 2 {
						return fmt.Errorf("usage: upload <file> <remote path>")
					}
					data, err := os.ReadFile(cCtx.Args().Get(0))
					if err != nil {
						return err
					}
					result, err := p.Upload(ctx, cCtx.Args().Get(1), bytes.NewReader(data), interfaces.UploadOptions{
						ContentType: cCtx.String("content-type"),
						NoOverwrite: cCtx.Bool("no-overwrite"),
					})
					if err != nil {
						return err
					}
					fmt.Printf("uploaded %s (%d bytes)\nmd5:    %s\nsha256: %s\n",
						result.Path, result.Size, result.MD5, result.SHA256)
					return nil
				}),
			},
			{
				Name:      "download",
				Usage:     "Download <remote path> to a local file or stdout",
				ArgsUsage: "<remote path> [file]",
				Action: withProvider(func(ctx context.Context, p interfaces.StorageProvider, cCtx *cli.Context) error {
					if cCtx.NArg() < 1 {
						return fmt.Errorf("usage: download <remote path> [file]")
					}
					data, err := p.Download(ctx, cCtx.Args().Get(0))
					if err != nil {
						return err
					}
					if cCtx.NArg() > 1 {
						return os.WriteFile(cCtx.Args().Get(1), data, 0o644)
					}
					_, err = os.Stdout.Write(data)
					return err
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete <remote path>",
				ArgsUsage: "<remote path>",
				Action: withProvider(func(ctx context.Context, p interfaces.StorageProvider, cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return fmt.Errorf("usage: delete <remote path>")
					}
					return p.Delete(ctx, cCtx.Args().Get(0))
				}),
			},
			{
				Name:      "list",
				Usage:     "List objects under a prefix",
				ArgsUsage: "[prefix]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "max", Value: 1000, Usage: "page size"},
					&cli.BoolFlag{Name: "recursive", Value: true, Usage: "descend into sub-prefixes"},
				},
				Action: withProvider(func(ctx context.Context, p interfaces.StorageProvider, cCtx *cli.Context) error {
					prefix := cCtx.Args().Get(0)
					token := ""
					for {
						result, err := p.List(ctx, prefix, interfaces.ListOptions{
							MaxResults:        cCtx.Int("max"),
							Recursive:         cCtx.Bool("recursive"),
							ContinuationToken: token,
						})
						if err != nil {
							return err
						}
						for _, obj := range result.Entries {
							if obj.IsDir {
								fmt.Printf("%32s %s/\n", "", obj.Path)
								continue
							}
							fmt.Printf("%12d %s %s\n", obj.Size, obj.ModifiedAt.Format(time.RFC3339), obj.Path)
						}
						if !result.HasMore {
							return nil
						}
						token = result.NextToken
					}
				}),
			},
			{
				Name:      "stat",
				Usage:     "Show object metadata",
				ArgsUsage: "<remote path>",
				Action: withProvider(func(ctx context.Context, p interfaces.StorageProvider, cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return fmt.Errorf("usage: stat <remote path>")
					}
					info, err := p.GetMetadata(ctx, cCtx.Args().Get(0))
					if err != nil {
						return err
					}
					fmt.Printf("path:         %s\nsize:         %d\nmodified:     %s\ncontent type: %s\n",
						info.Path, info.Size, info.ModifiedAt.Format(time.RFC3339), info.ContentType)
					if info.MD5 != "" {
						fmt.Printf("md5:          %s\n", info.MD5)
					}
					return nil
				}),
			},
			{
				Name:      "url",
				Usage:     "Generate a pre-signed download URL",
				ArgsUsage: "<remote path>",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "expiry", Value: 15 * time.Minute, Usage: "URL validity window"},
				},
				Action: withProvider(func(ctx context.Context, p interfaces.StorageProvider, cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return fmt.Errorf("usage: url <remote path>")
					}
					url, err := p.SignedURL(ctx, cCtx.Args().Get(0), cCtx.Duration("expiry"))
					if err != nil {
						return err
					}
					fmt.Println(url)
					return nil
				}),
			},
			{
				Name:      "copy",
				Usage:     "Copy an object within the backend",
				ArgsUsage: "<source> <destination>",
				Action: withProvider(func(ctx context.Context, p interfaces.StorageProvider, cCtx *cli.Context) error {
					if cCtx.NArg() != 2 {
						return fmt.Errorf("usage: copy <source> <destination>")
					}
					return p.Copy(ctx, cCtx.Args().Get(0), cCtx.Args().Get(1))
				}),
			},
			{
				Name:      "move",
				Usage:     "Move an object within the backend, verifying content integrity",
				ArgsUsage: "<source> <destination>",
				Action: withProvider(func(ctx context.Context, p interfaces.StorageProvider, cCtx *cli.Context) error {
					if cCtx.NArg() != 2 {
						return fmt.Errorf("usage: move <source> <destination>")
					}
					return p.Move(ctx, cCtx.Args().Get(0), cCtx.Args().Get(1))
				}),
			},
			{
				Name:  "stats",
				Usage: "Show processing queue counts per status",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "database-url",
						EnvVars: []string{"DOCVAULT_DATABASE_URL"},
						Usage:   "postgres connection string",
					},
				},
				Action: func(cCtx *cli.Context) error {
					dbURL := cCtx.String("database-url")
					if dbURL == "" {
						return fmt.Errorf("stats requires --database-url")
					}
					pool, err := pgxpool.New(cCtx.Context, dbURL)
					if err != nil {
						return fmt.Errorf("connecting to database: %w", err)
					}
					defer pool.Close()
					store := queue.NewPostgresStore(pool, queue.Options{})
					stats, err := store.Stats(cCtx.Context)
					if err != nil {
						return err
					}
					fmt.Printf("pending:    %d\nprocessing: %d\ncompleted:  %d\nfailed:     %d\n",
						stats.Pending, stats.Processing, stats.Completed, stats.Failed)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type providerAction func(ctx context.Context, p interfaces.StorageProvider, cCtx *cli.Context) error

func withProvider(action providerAction) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		logger := common.SetupLogger(&common.LoggingOpts{
			Debug:   cCtx.Bool("log-debug"),
			Service: "docvault-cli",
			Version: common.Version,
		})

		factory := storage.NewFactory(logger)
		provider, err := factory.CreateFromURI(cCtx.String("storage-uri"))
		if err != nil {
			return err
		}
		if !cCtx.Bool("no-retry") {
			provider = storage.WithRetry(provider, retry.DefaultPolicy())
		}
		return action(cCtx.Context, provider, cCtx)
	}
}
