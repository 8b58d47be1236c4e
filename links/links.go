// Package links persists custom share links. A link maps a short slug to a
// file path and the access token it was minted with, optionally served
// under a different file name.
package links

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mediapreview/export"
	"mediapreview/resource"
)

var ErrNotFound = errors.New("link not found")

const schema = `
CREATE TABLE IF NOT EXISTS links (
	slug       TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	token      TEXT NOT NULL DEFAULT '',
	file_name  TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	hits       INTEGER NOT NULL DEFAULT 0
)`

// Link is one stored custom link.
type Link struct {
	Slug      string    `json:"slug"`
	Path      string    `json:"path"`
	Token     string    `json:"-"`
	FileName  string    `json:"fileName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Hits      int64     `json:"hits"`
}

// URL is the origin-relative address of the link.
func (l Link) URL() string {
	u := "/l/" + l.Slug
	if l.FileName != "" {
		u += "/" + url.PathEscape(l.FileName)
	}
	return u
}

// DownloadName is the name the file is served under.
func (l Link) DownloadName() string {
	if l.FileName != "" {
		return l.FileName
	}
	return path.Base(l.Path)
}

// Store keeps links in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating when needed) the database at dsn.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening links db: %w", err)
	}
	// SQLite serialises writers anyway; one connection keeps :memory: usable.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring links db: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating links table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create stores a new link for p. fileName is reduced to its base name.
func (s *Store) Create(ctx context.Context, p, token, fileName string) (Link, error) {
	if p == "" {
		return Link{}, errors.New("link path is empty")
	}
	if fileName != "" {
		fileName = path.Base(strings.ReplaceAll(fileName, "\\", "/"))
		if fileName == "." || fileName == "/" || fileName == ".." {
			fileName = ""
		}
	}

	l := Link{Path: p, Token: token, FileName: fileName, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	for attempt := 0; attempt < 3; attempt++ {
		l.Slug = newSlug()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO links (slug, path, token, file_name, created_at) VALUES (?, ?, ?, ?, ?)`,
			l.Slug, l.Path, l.Token, l.FileName, l.CreatedAt.Unix())
		if err == nil {
			return l, nil
		}
		if !strings.Contains(err.Error(), "UNIQUE") {
			return Link{}, fmt.Errorf("inserting link: %w", err)
		}
	}
	return Link{}, errors.New("could not allocate a unique link slug")
}

// Get looks up slug. It does not count as a hit.
func (s *Store) Get(ctx context.Context, slug string) (Link, error) {
	var l Link
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT slug, path, token, file_name, created_at, hits FROM links WHERE slug = ?`, slug).
		Scan(&l.Slug, &l.Path, &l.Token, &l.FileName, &created, &l.Hits)
	if errors.Is(err, sql.ErrNoRows) {
		return Link{}, ErrNotFound
	}
	if err != nil {
		return Link{}, fmt.Errorf("querying link: %w", err)
	}
	l.CreatedAt = time.Unix(created, 0).UTC()
	return l, nil
}

// Hit records one use of slug.
func (s *Store) Hit(ctx context.Context, slug string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE links SET hits = hits + 1 WHERE slug = ?`, slug)
	if err != nil {
		return fmt.Errorf("counting link hit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes slug.
func (s *Store) Delete(ctx context.Context, slug string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE slug = ?`, slug)
	if err != nil {
		return fmt.Errorf("deleting link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every link for p, newest first. An empty p lists all links.
func (s *Store) List(ctx context.Context, p string) ([]Link, error) {
	q := `SELECT slug, path, token, file_name, created_at, hits FROM links`
	var args []any
	if p != "" {
		q += ` WHERE path = ?`
		args = append(args, p)
	}
	q += ` ORDER BY created_at DESC, slug`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		var created int64
		if err := rows.Scan(&l.Slug, &l.Path, &l.Token, &l.FileName, &created, &l.Hits); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		l.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

func newSlug() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// Customizer mints stored links for the export panel.
type Customizer struct {
	Store  *Store
	Origin string
}

func (c Customizer) Customize(ctx context.Context, req export.CustomRequest) (string, error) {
	l, err := c.Store.Create(ctx, req.Path, req.Token, req.FileName)
	if err != nil {
		return "", err
	}
	return resource.Absolute(c.Origin, l.URL()), nil
}
