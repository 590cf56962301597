package config

import (
	"os"
	"strconv"
	"strings"
)

// MigrationDirectProcessing runs migration jobs in-process instead of relying
// on Pub/Sub push delivery. Intended for local development and single-instance
// deployments.
//
// Set via env:
// - MIGRATION_DIRECT_PROCESSING=true
func MigrationDirectProcessing() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("MIGRATION_DIRECT_PROCESSING")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SessionRetentionHours controls how long a migration session and its staged
// chunk payloads are kept before the expiry sweeper reclaims them.
//
// Set via env:
// - MIGRATION_RETENTION_HOURS=72
func SessionRetentionHours() int {
	raw := strings.TrimSpace(os.Getenv("MIGRATION_RETENTION_HOURS"))
	if raw == "" {
		return 72
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 72
	}
	return n
}

// DisablePubSubPublish suppresses publishing of job messages entirely.
// Useful in tests and when MIGRATION_DIRECT_PROCESSING handles everything.
//
// Set via env:
// - DISABLE_PUBSUB_PUBLISH=true
func DisablePubSubPublish() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DISABLE_PUBSUB_PUBLISH")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
