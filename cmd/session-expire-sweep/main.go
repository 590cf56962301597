package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/migration_backend/config"
	"bitbucket.org/mmdatafocus/migration_backend/migration"
)

// One retention pass over migration sessions: expire overdue sessions and
// reclaim their chunk payload blobs. The server runs the same sweep on a
// ticker; this tool exists for manual runs and scheduled jobs.
func main() {
	dryRun := flag.Bool("dry-run", true, "Scan only (no writes); pass -dry-run=false to apply")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	// No Redis connection here: the connect helper blocks until Redis is up,
	// and the sweep only uses it for best-effort lock and cache cleanup.

	result, err := migration.SweepOnce(context.Background(), db, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}

	if *dryRun {
		fmt.Printf("dry-run: would expire %d sessions, delete %d payload blobs\n", result.Expired, result.BlobsDeleted)
		return
	}
	fmt.Printf("expired %d sessions, deleted %d payload blobs\n", result.Expired, result.BlobsDeleted)
}
