// Command ledger-export dumps the inventory movement ledger to a
// gzip-compressed NDJSON file for offline audit.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/oakmart/fulfillment/internal/audit"
	"github.com/oakmart/fulfillment/internal/repository"
)

func main() {
	var (
		databaseURL string
		outPath     string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&outPath, "out", "movements.ndjson.gz", "output file path")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, outPath); err != nil {
		slog.Error("ledger export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, outPath string) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	f, err := os.Create(outPath)
	if err != nil {
		return errors.Wrapf(err, "create %s", outPath)
	}
	defer func() { _ = f.Close() }()

	exporter := audit.NewExporter(repository.NewInventoryRepository(pool))
	count, err := exporter.Export(ctx, f)
	if err != nil {
		return errors.Wrap(err, "export movements")
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", outPath)
	}

	slog.Info("ledger export complete",
		slog.Int64("movements", count),
		slog.String("out", outPath),
	)
	return nil
}
