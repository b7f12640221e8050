package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxeldiagram.app/internal/persistence/indexdb"
)

// openRuntimeIndex picks the index backend from VD_INDEX_BACKEND. A nil
// index with a nil error means indexing is off.
func openRuntimeIndex(ctx context.Context, sessionDir string, disableDB bool) (*indexdb.Index, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VD_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(sessionDir, "index", "diagram.sqlite"))
	case "postgres", "pg":
		dsn := strings.TrimSpace(os.Getenv("VD_INDEX_PG_DSN"))
		if dsn == "" {
			return nil, fmt.Errorf("VD_INDEX_BACKEND=%s but VD_INDEX_PG_DSN is empty", backend)
		}
		return indexdb.OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported VD_INDEX_BACKEND: %s", backend)
	}
}
