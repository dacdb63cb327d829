// Package main runs one aggregation, prints the valuation and persists it
// when storage is enabled. It is meant to be run from cron.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/portfolio-aggregator/internal/app"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/logging"
)

func main() {
	var (
		timeout = flag.Duration("timeout", 2*time.Minute, "Maximum time for the whole run")
		asJSON  = flag.Bool("json", false, "Print the full portfolio view as JSON")
		prune   = flag.Bool("prune", true, "Delete snapshots older than SNAPSHOT_RETENTION after the run")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	application, err := app.New(cfg, logger, app.Options{})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	view, err := application.Portfolio.Refresh(ctx)
	if err != nil {
		logger.WithError(err).Error("Refresh failed")
		application.Close()
		os.Exit(1)
	}

	if *prune {
		if _, err := application.Portfolio.PruneSnapshots(ctx, cfg.Snapshot.Retention); err != nil {
			logger.WithError(err).Warn("Snapshot pruning failed")
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(view); err != nil {
			logger.WithError(err).Error("Failed to encode view")
		}
		return
	}

	v := view.Valuation
	fmt.Printf("Run %s at %s\n", view.RunID, view.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("Total: $%.2f (%s %.2f)\n", v.TotalValueUSD, view.FiatCurrency, view.TotalValueFiat)
	fmt.Printf("24h:   $%+.2f (%+.2f%%)\n", v.Change24hUSD, v.Change24hPercent)
	for _, p := range v.ByPlatform {
		fmt.Printf("  %-12s $%12.2f  %6.2f%%  %d holdings\n", p.Platform, p.ValueUSD, p.SharePercent, p.HoldingsCount)
	}
	for _, e := range view.Errors {
		fmt.Printf("  ! %s: %s\n", e.Platform, e.Error)
	}
}
