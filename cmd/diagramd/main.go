package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voxeldiagram.app/internal/metrics"
	"voxeldiagram.app/internal/persistence/indexdb"
	persistlog "voxeldiagram.app/internal/persistence/log"
	"voxeldiagram.app/internal/persistence/objstore"
	"voxeldiagram.app/internal/persistence/replay"
	"voxeldiagram.app/internal/persistence/snapshot"
	"voxeldiagram.app/internal/protocol"
	"voxeldiagram.app/internal/sim/catalogs"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/session"
	"voxeldiagram.app/internal/sim/tuning"
	"voxeldiagram.app/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		sessionID  = flag.String("session", "default", "session id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to editor.yaml (default: <configs>/editor.yaml)")
		docsDir    = flag.String("docs", "", "directory for save/load by name (default: <data>/docs)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (commits, audits, catalogs, snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[diagramd] ", log.LstdFlags|log.Lmicroseconds)

	blocksRaw, err := os.ReadFile(filepath.Join(*configDir, "blocks.json"))
	if err != nil {
		logger.Fatalf("read catalog: %v", err)
	}
	cat, err := catalogs.Parse(blocksRaw, catalogs.NewOrientationRegistry())
	if err != nil {
		logger.Fatalf("load catalog: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "editor.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning %s not found; using defaults", tp)
		tune = tuning.Defaults()
	}

	sessionDir := filepath.Join(*dataDir, "sessions", *sessionID)
	snapDir := filepath.Join(sessionDir, "snapshots")
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	docs := strings.TrimSpace(*docsDir)
	if docs == "" {
		docs = filepath.Join(*dataDir, "docs")
	}
	if err := os.MkdirAll(docs, 0o755); err != nil {
		logger.Fatalf("docs dir: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	idx, err := openRuntimeIndex(ctx, sessionDir, *disableDB)
	if err != nil {
		logger.Fatalf("index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalog(ctx, cat.Digest, blocksRaw, tune); err != nil {
			logger.Printf("index catalog: %v", err)
		}
		logger.Printf("index backend: %s", idx.Backend())
	}

	mirror, err := buildMirrorRuntime(ctx, *sessionID, idx, logger)
	if err != nil {
		logger.Fatalf("s3 mirror: %v", err)
	}
	defer mirror.Close()

	logOpts := persistlog.LoggerOptions{}
	if mirror.enabled {
		logOpts.OnClose = mirror.Enqueue
	}
	commitLog := persistlog.NewCommitLoggerWithOptions(sessionDir, logOpts)
	auditLog := persistlog.NewAuditLoggerWithOptions(sessionDir, logOpts)
	defer commitLog.Close()
	defer auditLog.Close()

	feed := ws.NewFeed()
	loggers := session.CommitLoggers{commitLog}
	audits := []ws.AuditSink{auditLog}
	if idx != nil {
		loggers = append(loggers, idx)
		audits = append(audits, idx)
	}
	loggers = append(loggers, feed)

	snapCh := make(chan snapshot.SnapshotV1, 2)
	sess, err := session.New(cat, session.Config{
		ID:           *sessionID,
		Tuning:       tune,
		Logger:       logger,
		Listeners:    []diagram.Listener{feed},
		CommitLogger: loggers,
		SnapshotSink: snapCh,
	})
	if err != nil {
		logger.Fatalf("session: %v", err)
	}

	sp := strings.TrimSpace(*snapPath)
	if sp == "" && *loadLatest {
		if sp, err = snapshot.Latest(snapDir); err != nil {
			logger.Fatalf("find snapshot: %v", err)
		}
	}
	if err := recoverSession(sess, cat, sessionDir, sp, logger); err != nil {
		logger.Fatalf("recover: %v", err)
	}

	// Snapshot writer.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(snapDir, snapshot.FileName(snap.Header.Seq))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					metrics.SnapshotsTotal.WithLabelValues("write_error").Inc()
					logger.Printf("snapshot write: %v", err)
					continue
				}
				metrics.SnapshotsTotal.WithLabelValues("written").Inc()
				idx.RecordSnapshot(path, snap)
				mirror.Enqueue(path)
				if removed, err := snapshot.Prune(snapDir, tune.Snapshot.Keep); err != nil {
					logger.Printf("snapshot prune: %v", err)
				} else if len(removed) > 0 {
					logger.Printf("pruned %d snapshots", len(removed))
				}
			}
		}
	}()

	go func() {
		if err := sess.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("session stopped: %v", err)
		}
	}()

	wsSrv, err := ws.NewServer(sess, feed, logger, ws.Options{DocsDir: docs, Audit: audits})
	if err != nil {
		logger.Fatalf("ws: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())

	if envBool("VD_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/state", stateHandler(sess, feed, idx, mirror))
		mux.HandleFunc("/admin/v1/snapshot", snapshotHandler(sess))
	} else {
		logger.Printf("admin endpoints disabled (VD_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("VD_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("session %s listening on %s", sess.ID(), *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// recoverSession rebuilds the diagram from the snapshot at sp (if any) plus
// the journal entries written after it, then hands it to sess.
func recoverSession(sess *session.Session, cat *catalogs.Catalog, sessionDir, sp string, logger *log.Logger) error {
	d := diagram.New(cat)
	var from uint64
	if sp != "" {
		snap, err := snapshot.ReadSnapshot(sp)
		if err != nil {
			return err
		}
		if snap.Header.SessionID != sess.ID() {
			logger.Printf("snapshot %s belongs to session %q; adopting it as %q", sp, snap.Header.SessionID, sess.ID())
		}
		if snap.Header.CatalogDigest != "" && snap.Header.CatalogDigest != cat.Digest {
			logger.Printf("snapshot catalog digest %s differs from %s; unknown ids fall back to %s",
				snap.Header.CatalogDigest, cat.Digest, cat.Fallback().Name())
		}
		if err := snap.Restore(d); err != nil {
			return err
		}
		from = snap.Header.Seq
		logger.Printf("loaded %s: seq=%d blocks=%d", sp, from, snap.Header.BlockCount)
	}

	res, replayErr := replay.Journal(d, sessionDir, from)
	if replayErr != nil {
		// The diagram stays at the last good entry.
		logger.Printf("journal replay stopped at seq=%d: %v", res.To, replayErr)
	}
	if res.Applied > 0 {
		logger.Printf("replayed %d journal entries: seq %d..%d", res.Applied, res.From+1, res.To)
	}
	if sp == "" && res.Applied == 0 && replayErr == nil {
		return nil
	}
	snap, err := snapshot.Capture(d, snapshot.Header{SessionID: sess.ID(), Seq: res.To, CatalogDigest: cat.Digest})
	if err != nil {
		return err
	}
	if replayErr != nil {
		// New commits continue from res.To, so the rejected tail must not be
		// read again. Pin the recovered state first, then move the journal.
		if err := snapshot.WriteSnapshot(filepath.Join(sessionDir, "snapshots", snapshot.FileName(res.To)), snap); err != nil {
			return err
		}
		moved, err := setAsideJournal(sessionDir)
		if err != nil {
			return err
		}
		logger.Printf("journal moved to %s", moved)
	}
	return sess.Restore(snap)
}

// setAsideJournal renames the commit journal of sessionDir so replay no
// longer sees it. It returns the new directory.
func setAsideJournal(sessionDir string) (string, error) {
	dst := filepath.Join(sessionDir, fmt.Sprintf("commits-rejected-%d", time.Now().UnixNano()))
	if err := os.Rename(persistlog.CommitDir(sessionDir), dst); err != nil {
		return "", err
	}
	return dst, nil
}

type stateResponse struct {
	SessionID    string                `json:"session_id"`
	State        protocol.SessionState `json:"state"`
	FeedClients  int                   `json:"feed_clients"`
	IndexBackend string                `json:"index_backend"`
	Index        indexdb.Stats         `json:"index"`
	Mirror       objstore.Stats        `json:"mirror"`
}

// stateHandler serves a loopback-only summary of the session and sidecars.
func stateHandler(sess *session.Session, feed *ws.Feed, idx *indexdb.Index, mirror *mirrorRuntime) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		resp, err := sess.Do(ctx, session.Command{Op: session.OpInfo})
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(stateResponse{
			SessionID:    sess.ID(),
			State:        resp.State,
			FeedClients:  feed.Len(),
			IndexBackend: idx.Backend(),
			Index:        idx.Stats(),
			Mirror:       mirror.Stats(),
		})
	}
}

func snapshotHandler(sess *session.Session) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		resp, err := sess.Do(ctx, session.Command{Op: session.OpSnapshot})
		if err == nil {
			err = resp.Err
		}
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "seq": resp.State.Seq, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "seq": resp.State.Seq})
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
