// Command cleanup purges audit events older than the retention window and
// records the purge in the trail itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/opentrusty/trustcore/internal/audit"
	"github.com/opentrusty/trustcore/internal/bootstrap"
	"github.com/opentrusty/trustcore/internal/config"
	"github.com/opentrusty/trustcore/internal/observability/logger"
)

func main() {
	days := flag.Int("days", 0, "retention in days (defaults to AUDIT_RETENTION_DAYS)")
	exportPath := flag.String("export", "", "export events in the purge window to this file first")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *days == 0 {
		*days = cfg.Audit.RetentionDays
	}

	slogger := logger.InitLogger(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, ServiceName: "trustcore-cleanup"})
	ctx := context.Background()

	sec, err := bootstrap.OpenSecrets(ctx, cfg, nil, slogger)
	if err != nil {
		log.Fatalf("Failed to open secrets: %v", err)
	}
	store, err := bootstrap.OpenAuditStore(ctx, cfg, sec, slogger)
	if err != nil {
		log.Fatalf("Failed to open audit store: %v", err)
	}
	defer store.Close()

	trail, err := bootstrap.NewTrail(store, cfg, nil, slogger)
	if err != nil {
		log.Fatalf("Failed to initialize audit trail: %v", err)
	}

	cutoff, err := trail.RetentionCutoff(*days)
	if err != nil {
		log.Fatalf("Invalid retention: %v", err)
	}

	if *exportPath != "" {
		n, err := trail.Export(ctx, *exportPath, time.Time{}, cutoff)
		if err != nil {
			log.Fatalf("Failed to export: %v", err)
		}
		if n >= audit.ExportLimit {
			log.Fatalf("Export hit the %d event limit; rerun with a larger -days value first", audit.ExportLimit)
		}
		fmt.Printf("✓ exported %d events to %s\n", n, *exportPath)
	}

	n, err := trail.PurgeBefore(ctx, cutoff)
	if err != nil {
		log.Fatalf("Failed to purge: %v", err)
	}
	fmt.Printf("✓ purged %d events older than %d days\n", n, *days)
}
