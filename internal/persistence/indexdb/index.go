// Package indexdb keeps a queryable index of commits, snapshots and catalogs
// next to the JSONL journal. Writes are queued and applied by one writer
// goroutine; when the queue is full entries are dropped, since the journal
// remains the source of truth.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voxeldiagram.app/internal/metrics"
	plog "voxeldiagram.app/internal/persistence/log"
	"voxeldiagram.app/internal/persistence/objstore"
	"voxeldiagram.app/internal/persistence/snapshot"
	"voxeldiagram.app/internal/protocol"
	"voxeldiagram.app/internal/sim/session"
)

const schemaVersion = "1"

// dialect covers the few places sqlite and postgres disagree.
type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of '?'
	numbered bool
}

func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropCommitTotal   uint64
	DropAuditTotal    uint64
	DropSnapshotTotal uint64
	WriteFailTotal    uint64
}

// Index is the shared writer for both backends.
type Index struct {
	db *sql.DB
	d  dialect

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropCommit   atomic.Uint64
	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
	writeFail    atomic.Uint64

	commitEvery   int
	commitMaxWait time.Duration
}

type reqKind int

const (
	reqCommit reqKind = iota + 1
	reqAudit
	reqSnapshot
	reqUpload
	reqFlush
)

type req struct {
	kind reqKind

	commit   session.CommitEntry
	audit    plog.AuditEntry
	snapshot snapshotRow
	upload   objstore.Upload
	done     chan struct{}
}

type snapshotRow struct {
	SessionID     string
	Seq           uint64
	Path          string
	BlockCount    int
	Levels        int
	CatalogDigest string
	CreatedAt     string
}

func newIndex(db *sql.DB, d dialect, queue int) *Index {
	if queue <= 0 {
		queue = 65536
	}
	s := &Index{
		db:            db,
		d:             d,
		ch:            make(chan req, queue),
		commitEvery:   2000,
		commitMaxWait: 2 * time.Second,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS commits (
			session_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			time TEXT NOT NULL,
			action TEXT NOT NULL,
			removed INTEGER NOT NULL,
			added INTEGER NOT NULL,
			block_count INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS changes (
			session_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			idx INTEGER NOT NULL,
			side TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			block_type BIGINT NOT NULL,
			orientation TEXT NOT NULL,
			PRIMARY KEY (session_id, seq, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_changes_pos_seq ON changes(x, z, y, seq);`,
		`CREATE TABLE IF NOT EXISTS audits (
			session_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			time TEXT NOT NULL,
			client_id TEXT NOT NULL,
			command_id TEXT NOT NULL,
			op TEXT NOT NULL,
			accepted INTEGER NOT NULL,
			code TEXT NOT NULL,
			message TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_client ON audits(client_id, seq);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			session_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			path TEXT NOT NULL,
			block_count INTEGER NOT NULL,
			levels INTEGER NOT NULL,
			catalog_digest TEXT NOT NULL,
			created_at TEXT NOT NULL,
			object_key TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS uploads (
			session_id TEXT NOT NULL,
			object_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			seq BIGINT NOT NULL,
			local_path TEXT NOT NULL,
			uploaded_at TEXT NOT NULL,
			PRIMARY KEY (session_id, object_key)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Index) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Index) Backend() string {
	if s == nil {
		return "none"
	}
	return s.d.name
}

func (s *Index) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropCommitTotal:   s.dropCommit.Load(),
		DropAuditTotal:    s.dropAudit.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		WriteFailTotal:    s.writeFail.Load(),
	}
}

func (s *Index) enqueue(r req, drops *atomic.Uint64) {
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
		metrics.IndexDroppedTotal.WithLabelValues(s.d.name).Inc()
	}
}

// WriteCommit satisfies session.CommitLogger.
func (s *Index) WriteCommit(entry session.CommitEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqCommit, commit: entry}, &s.dropCommit)
	return nil
}

func (s *Index) WriteAudit(entry plog.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqAudit, audit: entry}, &s.dropAudit)
	return nil
}

func (s *Index) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	h := snap.Header
	r := snapshotRow{
		SessionID:     h.SessionID,
		Seq:           h.Seq,
		Path:          path,
		BlockCount:    h.BlockCount,
		Levels:        h.Levels,
		CatalogDigest: h.CatalogDigest,
		CreatedAt:     h.CreatedAt,
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r}, &s.dropSnapshot)
}

// RecordUpload notes a mirrored artifact. For snapshots the object key is
// also set on the snapshot row.
func (s *Index) RecordUpload(u objstore.Upload) {
	if s == nil || s.closed.Load() {
		return
	}
	s.enqueue(req{kind: reqUpload, upload: u}, &s.dropSnapshot)
}

// Flush blocks until everything queued before it is committed.
func (s *Index) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertCatalog stores the raw catalog file and the tuning values in effect.
// It runs synchronously at startup.
func (s *Index) UpsertCatalog(ctx context.Context, digest string, raw []byte, tune any) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if len(raw) > 0 {
		rows = append(rows, kv{name: "blocks", digest: digest, json: raw})
	}
	if tune != nil {
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.d.rebind(
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`), schemaVersion); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.d.rebind(
		`INSERT INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET digest=excluded.digest, json=excluded.json, updated_at=excluded.updated_at`))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Index) loop() {
	ctx := context.Background()

	prep := func(q string) *sql.Stmt {
		st, err := s.db.Prepare(s.d.rebind(q))
		if err != nil {
			return nil
		}
		return st
	}
	insertCommit := prep(`INSERT INTO commits(session_id,seq,time,action,removed,added,block_count,raw_json) VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(session_id,seq) DO UPDATE SET time=excluded.time, action=excluded.action, removed=excluded.removed,
		added=excluded.added, block_count=excluded.block_count, raw_json=excluded.raw_json`)
	insertChange := prep(`INSERT INTO changes(session_id,seq,idx,side,x,y,z,block_type,orientation) VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(session_id,seq,idx) DO NOTHING`)
	insertAudit := prep(`INSERT INTO audits(session_id,seq,time,client_id,command_id,op,accepted,code,message) VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(session_id,seq) DO NOTHING`)
	insertSnapshot := prep(`INSERT INTO snapshots(session_id,seq,path,block_count,levels,catalog_digest,created_at) VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(session_id,seq) DO UPDATE SET path=excluded.path, block_count=excluded.block_count,
		levels=excluded.levels, catalog_digest=excluded.catalog_digest, created_at=excluded.created_at`)
	updateMirrored := prep(`UPDATE snapshots SET object_key=? WHERE session_id=? AND seq=?`)
	insertUpload := prep(`INSERT INTO uploads(session_id,object_key,kind,seq,local_path,uploaded_at) VALUES(?,?,?,?,?,?)
		ON CONFLICT(session_id,object_key) DO UPDATE SET local_path=excluded.local_path, uploaded_at=excluded.uploaded_at`)
	defer func() {
		for _, st := range []*sql.Stmt{insertCommit, insertChange, insertAudit, insertSnapshot, updateMirrored, insertUpload} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()

		// audits have no natural key; number them per session in arrival order
		auditSeq = map[string]int64{}
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFail.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeFail.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}
	changes := func(c session.CommitEntry) {
		idx := 0
		for _, side := range []struct {
			name   string
			blocks []protocol.Block
		}{{"removed", c.Removed}, {"added", c.Added}} {
			for _, b := range side.blocks {
				if !exec(insertChange, c.SessionID, int64(c.Seq), idx, side.name, b.Pos[0], b.Pos[1], b.Pos[2], int64(b.Type), b.Orientation) {
					return
				}
				idx++
			}
		}
	}

	tick := time.NewTicker(s.commitMaxWait)
	defer tick.Stop()

	for {
		var (
			r  req
			ok bool
		)
		select {
		case r, ok = <-s.ch:
		case <-tick.C:
			if tx != nil && time.Since(lastCommit) >= s.commitMaxWait {
				commit()
			}
			continue
		}
		if !ok {
			break
		}
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqCommit:
			c := r.commit
			raw, _ := json.Marshal(c)
			if exec(insertCommit, c.SessionID, int64(c.Seq), c.Time, c.Action, len(c.Removed), len(c.Added), c.BlockCount, string(raw)) {
				changes(c)
			}

		case reqAudit:
			a := r.audit
			seq := auditSeq[a.SessionID]
			auditSeq[a.SessionID] = seq + 1
			accepted := 0
			if a.Accepted {
				accepted = 1
			}
			exec(insertAudit, a.SessionID, seq, a.Time, a.ClientID, a.CommandID, a.Op, accepted, a.Code, a.Message)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.SessionID, int64(sn.Seq), sn.Path, sn.BlockCount, sn.Levels, sn.CatalogDigest, sn.CreatedAt)

		case reqUpload:
			u := r.upload
			if !exec(insertUpload, u.SessionID, u.Key, string(u.Kind), int64(u.Seq), u.LocalPath, u.Time.UTC().Format(time.RFC3339)) {
				break
			}
			if u.Kind == objstore.KindSnapshot {
				exec(updateMirrored, u.Key, u.SessionID, int64(u.Seq))
			}
		}
		if tx != nil && (opCount >= s.commitEvery || time.Since(lastCommit) >= s.commitMaxWait) {
			commit()
		}
	}

	commit()
}
