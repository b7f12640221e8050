package indexdb

import (
	"context"
	"database/sql"
	"errors"
)

type CommitRow struct {
	SessionID  string
	Seq        uint64
	Time       string
	Action     string
	Removed    int
	Added      int
	BlockCount int
}

type ChangeRow struct {
	SessionID   string
	Seq         uint64
	Side        string
	Pos         [3]int
	Type        int64
	Orientation string
}

type SnapshotRow struct {
	SessionID  string
	Seq        uint64
	Path       string
	BlockCount int
	Levels     int
	CreatedAt  string
	ObjectKey  string
}

// Commits lists commits of one session with seq > after, oldest first.
func (s *Index) Commits(ctx context.Context, sessionID string, after uint64, limit int) ([]CommitRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT session_id, seq, time, action, removed, added, block_count FROM commits
		 WHERE session_id=? AND seq>? ORDER BY seq LIMIT ?`), sessionID, int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CommitRow
	for rows.Next() {
		var (
			r   CommitRow
			seq int64
		)
		if err := rows.Scan(&r.SessionID, &seq, &r.Time, &r.Action, &r.Removed, &r.Added, &r.BlockCount); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		out = append(out, r)
	}
	return out, rows.Err()
}

// History lists every recorded change at one position, newest first.
func (s *Index) History(ctx context.Context, pos [3]int, limit int) ([]ChangeRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT session_id, seq, side, block_type, orientation FROM changes
		 WHERE x=? AND z=? AND y=? ORDER BY seq DESC, idx DESC LIMIT ?`), pos[0], pos[2], pos[1], limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChangeRow
	for rows.Next() {
		var (
			r   ChangeRow
			seq int64
		)
		if err := rows.Scan(&r.SessionID, &seq, &r.Side, &r.Type, &r.Orientation); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		r.Pos = pos
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Index) Snapshots(ctx context.Context, sessionID string) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT session_id, seq, path, block_count, levels, created_at, object_key FROM snapshots
		 WHERE session_id=? ORDER BY seq`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var (
			r   SnapshotRow
			seq int64
		)
		if err := rows.Scan(&r.SessionID, &seq, &r.Path, &r.BlockCount, &r.Levels, &r.CreatedAt, &r.ObjectKey); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		out = append(out, r)
	}
	return out, rows.Err()
}

type UploadRow struct {
	SessionID  string
	Kind       string
	Seq        uint64
	ObjectKey  string
	LocalPath  string
	UploadedAt string
}

// Uploads lists mirrored artifacts of one session, newest first. kind may be
// empty for all kinds.
func (s *Index) Uploads(ctx context.Context, sessionID, kind string, limit int) ([]UploadRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT session_id, kind, seq, object_key, local_path, uploaded_at FROM uploads
		 WHERE session_id=? AND (?='' OR kind=?) ORDER BY uploaded_at DESC, object_key DESC LIMIT ?`),
		sessionID, kind, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UploadRow
	for rows.Next() {
		var (
			r   UploadRow
			seq int64
		)
		if err := rows.Scan(&r.SessionID, &r.Kind, &seq, &r.ObjectKey, &r.LocalPath, &r.UploadedAt); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CatalogDigest returns the stored digest for name, or "" when absent.
func (s *Index) CatalogDigest(ctx context.Context, name string) (string, error) {
	var digest string
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT digest FROM catalogs WHERE name=?`), name).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return digest, err
}
