package objstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"voxeldiagram.app/internal/metrics"
)

// Kind is the sort of session artifact being mirrored.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindJournal  Kind = "journal"
	KindAudit    Kind = "audit"
)

var (
	ErrPartial = errors.New("objstore: partially written file")
	ErrUnknown = errors.New("objstore: not a session artifact")
)

// Artifact is one file produced by a session's sidecars.
type Artifact struct {
	Kind Kind
	Path string
	// Seq is set for snapshots only.
	Seq uint64
}

// Classify maps a local file to an artifact by its directory and name:
// snapshots/<seq>.snap.zst, commits/commits-<hour>.jsonl.zst and
// audit/audit-<hour>.jsonl.zst.
func Classify(p string) (Artifact, error) {
	name := filepath.Base(p)
	dir := filepath.Base(filepath.Dir(p))
	if strings.HasSuffix(name, ".tmp") {
		return Artifact{}, fmt.Errorf("%w: %s", ErrPartial, p)
	}
	switch {
	case dir == "snapshots" && strings.HasSuffix(name, ".snap.zst"):
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			return Artifact{}, fmt.Errorf("%w: %s", ErrUnknown, p)
		}
		return Artifact{Kind: KindSnapshot, Path: p, Seq: seq}, nil
	case dir == "commits" && strings.HasPrefix(name, "commits-") && strings.HasSuffix(name, ".jsonl.zst"):
		return Artifact{Kind: KindJournal, Path: p}, nil
	case dir == "audit" && strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".jsonl.zst"):
		return Artifact{Kind: KindAudit, Path: p}, nil
	}
	return Artifact{}, fmt.Errorf("%w: %s", ErrUnknown, p)
}

// Key is the object key of a within a session:
// <prefix>/sessions/<session>/{snapshots,commits,audit}/<name>.
func (a Artifact) Key(prefix, sessionID string) string {
	dir := "snapshots"
	switch a.Kind {
	case KindJournal:
		dir = "commits"
	case KindAudit:
		dir = "audit"
	}
	return path.Join(prefix, "sessions", sessionID, dir, filepath.Base(a.Path))
}

// Upload describes a finished upload.
type Upload struct {
	SessionID string
	Kind      Kind
	Seq       uint64
	LocalPath string
	Key       string
	Time      time.Time
}

// UploadSink is told about each successful upload. Implemented by
// internal/persistence/indexdb.
type UploadSink interface {
	RecordUpload(u Upload)
}

type MirrorOptions struct {
	SessionID string
	Prefix    string
	Workers   int
	Queue     int
	Attempts  int
	Backoff   time.Duration
	Sink      UploadSink
	Logger    *log.Logger
}

type Stats struct {
	QueueDepth    int             `json:"queue_depth"`
	QueueCapacity int             `json:"queue_capacity"`
	Enqueued      uint64          `json:"enqueued"`
	Coalesced     uint64          `json:"coalesced"`
	Rejected      uint64          `json:"rejected"`
	Dropped       uint64          `json:"dropped"`
	Gone          uint64          `json:"gone"`
	Failed        uint64          `json:"failed"`
	Uploaded      map[Kind]uint64 `json:"uploaded"`
	LastKey       string          `json:"last_key,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// Mirror copies one session's snapshots and closed log segments to the
// bucket. Enqueue never blocks: a path already waiting is coalesced, and a
// full queue drops the artifact. A snapshot pruned before its turn is
// skipped.
type Mirror struct {
	client *Client
	opts   MirrorOptions
	prefix string

	jobs chan Artifact
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending map[string]bool
	closed  bool
	stats   Stats
}

func NewMirror(client *Client, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Queue <= 0 {
		opts.Queue = 256
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.SessionID == "" {
		opts.SessionID = "default"
	}
	m := &Mirror{
		client:  client,
		opts:    opts,
		prefix:  strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/"),
		jobs:    make(chan Artifact, opts.Queue),
		pending: map[string]bool{},
		stats:   Stats{Uploaded: map[Kind]uint64{}},
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for a := range m.jobs {
				m.upload(a)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath. It has the signature of a log segment
// OnClose hook.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	a, err := Classify(localPath)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if err != nil {
		m.stats.Rejected++
		m.printf("mirror reject: %v", err)
		return
	}
	if m.pending[a.Path] {
		m.stats.Coalesced++
		return
	}
	select {
	case m.jobs <- a:
		m.pending[a.Path] = true
		m.stats.Enqueued++
	default:
		m.stats.Dropped++
		metrics.MirrorUploadsTotal.WithLabelValues(string(a.Kind), "dropped").Inc()
		m.printf("mirror drop %s %s: queue full (%d)", a.Kind, a.Path, cap(m.jobs))
	}
}

// Close stops accepting work and waits for queued uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.jobs)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stats
	st.Uploaded = make(map[Kind]uint64, len(m.stats.Uploaded))
	for k, v := range m.stats.Uploaded {
		st.Uploaded[k] = v
	}
	st.QueueDepth = len(m.jobs)
	st.QueueCapacity = cap(m.jobs)
	return st
}

func (m *Mirror) upload(a Artifact) {
	key := a.Key(m.prefix, m.opts.SessionID)
	err := m.put(key, a.Path)

	m.mu.Lock()
	delete(m.pending, a.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		m.stats.Gone++
	case err != nil:
		m.stats.Failed++
		m.stats.LastError = err.Error()
	default:
		m.stats.Uploaded[a.Kind]++
		m.stats.LastKey = key
	}
	m.mu.Unlock()

	switch {
	case errors.Is(err, os.ErrNotExist):
		metrics.MirrorUploadsTotal.WithLabelValues(string(a.Kind), "gone").Inc()
		m.printf("mirror skip %s: removed before upload", a.Path)
	case err != nil:
		metrics.MirrorUploadsTotal.WithLabelValues(string(a.Kind), "fail").Inc()
		m.printf("mirror %s s3://%s/%s failed: %v", a.Kind, m.client.Bucket(), key, err)
	default:
		metrics.MirrorUploadsTotal.WithLabelValues(string(a.Kind), "ok").Inc()
		if m.opts.Sink != nil {
			m.opts.Sink.RecordUpload(Upload{
				SessionID: m.opts.SessionID,
				Kind:      a.Kind,
				Seq:       a.Seq,
				LocalPath: a.Path,
				Key:       key,
				Time:      time.Now().UTC(),
			})
		}
	}
}

// put retries transient failures. A missing file is final.
func (m *Mirror) put(key, localPath string) error {
	var err error
	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		if _, statErr := os.Stat(localPath); statErr != nil {
			return statErr
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.client.PutFile(ctx, key, localPath)
		cancel()
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return err
		}
		if attempt < m.opts.Attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
		}
	}
	return err
}

func (m *Mirror) printf(format string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Printf(format, args...)
	}
}
