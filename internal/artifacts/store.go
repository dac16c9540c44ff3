// Package artifacts stores opaque blobs on disk with a SQLite metadata index.
// Callers hold "artifact:<uuid>" references; image artifacts get a thumbnail
// rendered next to the blob.
package artifacts

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// RefPrefix precedes every artifact id in references handed to agents.
const RefPrefix = "artifact:"

const thumbMaxDim = 256

var ErrNotFound = errors.New("artifact_not_found")

// Meta is the indexed metadata of one artifact.
type Meta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	MimeType  string    `json:"mimeType,omitempty"`
	Type      string    `json:"type"` // "text", "image", "file"
	Size      int64     `json:"size"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ThumbPath string    `json:"-"`
}

// Ref returns the reference string for this artifact.
func (m *Meta) Ref() string { return RefPrefix + m.ID }

// Store is the blob directory plus its SQLite index.
type Store struct {
	dir string
	db  *sql.DB
}

// Open prepares the directory layout and the index schema.
func Open(dir string) (*Store, error) {
	for _, sub := range []string{"blobs", "thumbs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("artifacts dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("open artifact index: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		id         TEXT PRIMARY KEY,
		name       TEXT,
		mime_type  TEXT,
		type       TEXT NOT NULL,
		size       INTEGER NOT NULL,
		created_by TEXT,
		created_at TEXT NOT NULL,
		thumb_path TEXT
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init artifact index: %w", err)
	}
	return &Store{dir: dir, db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// PutOptions describes the blob being stored.
type PutOptions struct {
	Name      string
	MimeType  string
	Type      string // defaults to "file"
	CreatedBy string
}

// Put stores a blob and indexes it, returning the artifact reference.
func (s *Store) Put(ctx context.Context, data []byte, opts PutOptions) (string, *Meta, error) {
	typ := opts.Type
	if typ == "" {
		typ = "file"
	}
	meta := &Meta{
		ID:        uuid.NewString(),
		Name:      opts.Name,
		MimeType:  opts.MimeType,
		Type:      typ,
		Size:      int64(len(data)),
		CreatedBy: opts.CreatedBy,
		CreatedAt: time.Now().UTC(),
	}

	blobPath := filepath.Join(s.dir, "blobs", meta.ID)
	if err := os.WriteFile(blobPath, data, 0o644); err != nil {
		return "", nil, fmt.Errorf("write artifact blob: %w", err)
	}

	if typ == "image" || strings.HasPrefix(opts.MimeType, "image/") {
		meta.ThumbPath = s.renderThumbnail(meta.ID, data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, name, mime_type, type, size, created_by, created_at, thumb_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.Name, meta.MimeType, meta.Type, meta.Size, meta.CreatedBy,
		meta.CreatedAt.Format(time.RFC3339Nano), meta.ThumbPath)
	if err != nil {
		os.Remove(blobPath)
		return "", nil, fmt.Errorf("index artifact: %w", err)
	}
	return meta.Ref(), meta, nil
}

// renderThumbnail writes a bounded-size PNG next to the blob. Failures are
// logged and the artifact is stored without a thumbnail.
func (s *Store) renderThumbnail(id string, data []byte) string {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Debug("artifact thumbnail skipped", "artifact", id, "error", err)
		return ""
	}
	thumb := imaging.Fit(img, thumbMaxDim, thumbMaxDim, imaging.Lanczos)
	path := filepath.Join(s.dir, "thumbs", id+".png")
	if err := imaging.Save(thumb, path); err != nil {
		slog.Warn("artifact thumbnail failed", "artifact", id, "error", err)
		return ""
	}
	return path
}

// Get loads a blob and its metadata by reference.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, *Meta, error) {
	id, ok := ParseRef(ref)
	if !ok {
		return nil, nil, fmt.Errorf("invalid artifact reference %q", ref)
	}
	meta, err := s.lookup(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, "blobs", id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("read artifact blob: %w", err)
	}
	return data, meta, nil
}

// SaveUploadedFile stores an inbound upload and returns its reference plus
// metadata. Gateway attachments go through here.
func (s *Store) SaveUploadedFile(ctx context.Context, data []byte, filename, mimeType, typ string) (string, *Meta, error) {
	return s.Put(ctx, data, PutOptions{Name: filename, MimeType: mimeType, Type: typ, CreatedBy: "upload"})
}

// List returns all artifact metadata, newest first.
func (s *Store) List(ctx context.Context) ([]*Meta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, mime_type, type, size, created_by, created_at, thumb_path
		 FROM artifacts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Meta
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

func (s *Store) lookup(ctx context.Context, id string) (*Meta, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, mime_type, type, size, created_by, created_at, thumb_path
		 FROM artifacts WHERE id = ?`, id)
	meta, err := scanMeta(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return meta, err
}

type scanner interface{ Scan(dest ...any) error }

func scanMeta(row scanner) (*Meta, error) {
	var m Meta
	var createdAt string
	if err := row.Scan(&m.ID, &m.Name, &m.MimeType, &m.Type, &m.Size, &m.CreatedBy, &createdAt, &m.ThumbPath); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: bad created_at: %w", m.ID, err)
	}
	m.CreatedAt = t
	return &m, nil
}

// ParseRef extracts the artifact id from an "artifact:<uuid>" reference.
func ParseRef(ref string) (string, bool) {
	if !strings.HasPrefix(ref, RefPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(ref, RefPrefix)
	return id, id != ""
}
