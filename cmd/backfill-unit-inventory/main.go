package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/commissions_backend/config"
	"bitbucket.org/mmdatafocus/commissions_backend/erpsync"
	"bitbucket.org/mmdatafocus/commissions_backend/models"
	"bitbucket.org/mmdatafocus/commissions_backend/utils"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Hour, "Maximum runtime before the backfill is cancelled.")
	migrate := flag.Bool("migrate", true, "Run AutoMigrate before backfilling.")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = utils.SetActorInContext(ctx, "BackfillUnitInventory")

	// Explicit DB connect (config no longer connects DB in init()).
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	if *migrate {
		models.MigrateTable()
	}

	stats, err := erpsync.BackfillUnitInventory(ctx, db, nil)
	fmt.Printf("unit inventory backfill: created=%d updated=%d skipped=%d errors=%d\n",
		stats.Created, stats.Updated, stats.Skipped, stats.Errors)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unit inventory backfill failed: %v\n", err)
		os.Exit(1)
	}
}
