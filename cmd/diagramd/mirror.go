package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"

	"voxeldiagram.app/internal/persistence/indexdb"
	"voxeldiagram.app/internal/persistence/objstore"
)

type mirrorRuntime struct {
	enabled bool
	mirror  *objstore.Mirror
}

// buildMirrorRuntime returns a disabled runtime when VD_S3_BUCKET is unset.
// Uploads are recorded in idx when it is not nil.
func buildMirrorRuntime(ctx context.Context, sessionID string, idx *indexdb.Index, logger *log.Logger) (*mirrorRuntime, error) {
	cfg, ok := objstore.ConfigFromEnv()
	if !ok {
		return &mirrorRuntime{}, nil
	}
	client, err := objstore.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts := objstore.MirrorOptions{
		SessionID: sessionID,
		Prefix:    cfg.Prefix,
		Workers:   envInt("VD_S3_UPLOAD_WORKERS", 2),
		Queue:     envInt("VD_S3_QUEUE", 256),
		Logger:    logger,
	}
	if idx != nil {
		opts.Sink = idx
	}
	logger.Printf("mirroring session %s to s3://%s/%s", sessionID, client.Bucket(), cfg.Prefix)
	return &mirrorRuntime{enabled: true, mirror: objstore.NewMirror(client, opts)}, nil
}

func (r *mirrorRuntime) Enqueue(localPath string) {
	if r == nil || !r.enabled {
		return
	}
	r.mirror.Enqueue(localPath)
}

func (r *mirrorRuntime) Close() {
	if r == nil || !r.enabled {
		return
	}
	r.mirror.Close()
}

func (r *mirrorRuntime) Stats() objstore.Stats {
	if r == nil || !r.enabled {
		return objstore.Stats{}
	}
	return r.mirror.Stats()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
