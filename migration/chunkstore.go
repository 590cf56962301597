package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"

	"bitbucket.org/mmdatafocus/migration_backend/models"
	"bitbucket.org/mmdatafocus/migration_backend/utils"
)

// Chunk payloads are stored in GCS; only the status row lives in MySQL. The
// split means re-validation and re-import never need a re-upload, and the
// retention sweep can reclaim blob space independently of row history.

func ChunkObjectKey(businessId, sessionId, chunkId, format string) string {
	return path.Join(businessId, "migrations", sessionId, chunkId+"."+format)
}

func ChunkChecksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func chunkContentType(format string) string {
	switch format {
	case ChunkFormatXlsx:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ChunkFormatCsv:
		return "text/csv"
	case ChunkFormatRows:
		return "application/json"
	}
	return "application/octet-stream"
}

func SaveChunkPayload(ctx context.Context, chunk *models.MigrationChunk, payload []byte) error {
	return utils.UploadBytesToGCS(ctx, chunk.ObjectKey, payload, chunkContentType(chunk.Format))
}

// ReadChunkPayload fetches the raw payload and verifies it against the
// recorded checksum. A mismatch means the blob was corrupted or replaced and
// is treated as unreadable rather than silently validated.
func ReadChunkPayload(ctx context.Context, chunk *models.MigrationChunk) ([]byte, error) {
	payload, err := utils.ReadBytesFromGCS(ctx, chunk.ObjectKey)
	if err != nil {
		return nil, err
	}
	if chunk.Checksum != "" && ChunkChecksum(payload) != chunk.Checksum {
		return nil, fmt.Errorf("chunk %s payload checksum mismatch", chunk.ID)
	}
	return payload, nil
}

// DeleteSessionPayloads removes the blobs of all given chunks. Missing
// objects are fine; the sweep may run more than once.
func DeleteSessionPayloads(ctx context.Context, chunks []*models.MigrationChunk) error {
	var firstErr error
	for _, chunk := range chunks {
		if chunk.ObjectKey == "" {
			continue
		}
		if err := utils.DeleteObjectFromGCS(ctx, chunk.ObjectKey); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
