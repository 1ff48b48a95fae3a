// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog stores named extraction paths in SQLite and detects which
// of them applies to a response document.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sweep "github.com/noi-techpark/go-sweep"
	_ "modernc.org/sqlite"
)

// DefaultFileName is used when no catalog path is configured.
const DefaultFileName = "sweep_catalog.db"

var ErrNotFound = errors.New("structure not found")

// Structure is a named extraction path, e.g. "data.items" for responses of
// a given API.
type Structure struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	PathPattern     string    `json:"pathPattern"`
	ExampleResponse string    `json:"exampleResponse,omitempty"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type Catalog struct {
	db       *sql.DB
	resolver sweep.PathResolver
	logger   sweep.Logger
	now      func() time.Time
}

// Open connects to the database at path, creating the schema when missing.
// ":memory:" gives a private in-memory catalog.
func Open(path string) (*Catalog, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// one connection: sqlite has a single writer and :memory: is per connection
	db.SetMaxOpenConns(1)

	c := &Catalog{
		db:       db,
		resolver: sweep.NewResolver(),
		logger:   sweep.NewNoopLogger(),
		now:      time.Now,
	}
	if err := c.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) SetLogger(logger sweep.Logger) {
	c.logger = logger
}

// SetResolver replaces the path resolver used by Detect.
func (c *Catalog) SetResolver(r sweep.PathResolver) {
	c.resolver = r
}

func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Catalog) EnsureSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS json_structures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		path_pattern TEXT NOT NULL,
		example_response TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create catalog schema: %w", err)
	}
	return nil
}

// Add inserts s as an active structure and returns its ID.
func (c *Catalog) Add(ctx context.Context, s Structure) (int64, error) {
	if err := validate(s); err != nil {
		return 0, err
	}
	ts := c.now().UTC().Format(time.RFC3339Nano)
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO json_structures (name, description, path_pattern, example_response, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`, s.Name, s.Description, s.PathPattern, s.ExampleResponse, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to add structure: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read structure id: %w", err)
	}
	c.logger.Debug("[Catalog] added %s (%s) as %d", s.Name, s.PathPattern, id)
	return id, nil
}

// Update overwrites every editable field of the structure with s.ID.
func (c *Catalog) Update(ctx context.Context, s Structure) error {
	if err := validate(s); err != nil {
		return err
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE json_structures
		SET name = ?, description = ?, path_pattern = ?, example_response = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, s.Name, s.Description, s.PathPattern, s.ExampleResponse, boolToInt(s.Active), c.now().UTC().Format(time.RFC3339Nano), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update structure: %w", err)
	}
	return expectOne(res)
}

func (c *Catalog) Delete(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM json_structures WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete structure: %w", err)
	}
	return expectOne(res)
}

func (c *Catalog) Get(ctx context.Context, id int64) (*Structure, error) {
	return c.queryOne(ctx, `WHERE id = ?`, id)
}

// GetByName returns the first structure called name.
func (c *Catalog) GetByName(ctx context.Context, name string) (*Structure, error) {
	return c.queryOne(ctx, `WHERE name = ? ORDER BY id LIMIT 1`, name)
}

// ListActive returns the active structures ordered by name.
func (c *Catalog) ListActive(ctx context.Context) ([]Structure, error) {
	return c.query(ctx, `WHERE is_active = 1 ORDER BY name, id`)
}

func (c *Catalog) List(ctx context.Context) ([]Structure, error) {
	return c.query(ctx, `ORDER BY name, id`)
}

// Detect returns the first active structure, by name, whose path resolves to
// a non-null value in doc. It returns nil when none matches.
func (c *Catalog) Detect(ctx context.Context, doc any) (*Structure, error) {
	structures, err := c.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range structures {
		if _, ok := c.resolver.Resolve(doc, structures[i].PathPattern); ok {
			c.logger.Debug("[Catalog] detected %s", structures[i].Name)
			return &structures[i], nil
		}
	}
	return nil, nil
}

// DetectRaw is Detect on undecoded JSON. jq patterns are skipped since they
// need a decoded document.
func (c *Catalog) DetectRaw(ctx context.Context, raw []byte) (*Structure, error) {
	structures, err := c.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range structures {
		if strings.HasPrefix(structures[i].PathPattern, sweep.JQPrefix) {
			continue
		}
		if _, ok := sweep.ResolveBytes(raw, structures[i].PathPattern); ok {
			return &structures[i], nil
		}
	}
	return nil, nil
}

const selectColumns = `SELECT id, name, description, path_pattern, example_response, is_active, created_at, updated_at FROM json_structures `

func (c *Catalog) queryOne(ctx context.Context, where string, args ...any) (*Structure, error) {
	row := c.db.QueryRowContext(ctx, selectColumns+where, args...)
	s, err := scanStructure(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load structure: %w", err)
	}
	return s, nil
}

func (c *Catalog) query(ctx context.Context, clause string) ([]Structure, error) {
	rows, err := c.db.QueryContext(ctx, selectColumns+clause)
	if err != nil {
		return nil, fmt.Errorf("failed to query structures: %w", err)
	}
	defer rows.Close()

	var out []Structure
	for rows.Next() {
		s, err := scanStructure(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan structure: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating structures: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStructure(row scanner) (*Structure, error) {
	var s Structure
	var active int64
	var created, updated string
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &s.PathPattern, &s.ExampleResponse, &active, &created, &updated); err != nil {
		return nil, err
	}
	s.Active = active != 0
	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	s.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &s, nil
}

func validate(s Structure) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("structure name cannot be empty")
	}
	if strings.TrimSpace(s.PathPattern) == "" {
		return fmt.Errorf("path pattern cannot be empty")
	}
	if expr, ok := strings.CutPrefix(s.PathPattern, sweep.JQPrefix); ok {
		if _, err := sweep.CompileJQ(expr); err != nil {
			return err
		}
	}
	return nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
