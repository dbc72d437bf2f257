// Command migrate applies the audit_log schema to the configured store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/opentrusty/trustcore/internal/config"
	"github.com/opentrusty/trustcore/internal/store/postgres"
	"github.com/opentrusty/trustcore/internal/store/sqlite"
)

func main() {
	driver := flag.String("driver", "", "audit store driver (defaults to AUDIT_DRIVER)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *driver != "" {
		cfg.Audit.Driver = *driver
	}

	ctx := context.Background()
	switch cfg.Audit.Driver {
	case config.DriverPostgres:
		pgCfg := cfg.Database.Postgres()
		fmt.Printf("Connecting to %s\n", pgCfg.Redacted())
		db, err := postgres.New(ctx, pgCfg)
		if err != nil {
			log.Fatalf("Failed to connect: %v", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("Failed to apply audit schema: %v", err)
		}
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Audit.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open %s: %v", cfg.Audit.SQLitePath, err)
		}
		if err := db.Close(); err != nil {
			log.Fatalf("Failed to close %s: %v", cfg.Audit.SQLitePath, err)
		}
	default:
		fmt.Fprintf(os.Stderr, "driver %q has no schema\n", cfg.Audit.Driver)
		os.Exit(2)
	}

	fmt.Printf("✓ audit_log schema applied (%s)\n", cfg.Audit.Driver)
}
