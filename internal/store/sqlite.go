package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// sweepInterval throttles MaybeCleanup: at most one expiry sweep per
// interval regardless of request volume.
const sweepInterval = 60 * time.Second

type SQLiteStore struct {
	db *sql.DB

	sweepMu   sync.Mutex
	lastSweep time.Time

	now func() time.Time
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: sqlite has one writer anyway and this keeps
	// the foreign_keys pragma in effect for every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.init(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) init() error {
	query := `
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS endpoints (
		id TEXT PRIMARY KEY,
		secret_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		endpoint_id TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		headers TEXT NOT NULL,
		query TEXT NOT NULL,
		body TEXT,
		truncated INTEGER NOT NULL DEFAULT 0,
		ip TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(endpoint_id) REFERENCES endpoints(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_requests_endpoint_recent ON requests(endpoint_id, id DESC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateEndpoint(ctx context.Context, id string, secretHash string, ttl time.Duration) (*Endpoint, error) {
	now := s.now()
	expiresAt := now.Add(ttl)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO endpoints (id, secret_hash, created_at, expires_at) VALUES (?, ?, ?, ?)",
		id, secretHash, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create endpoint: %w", err)
	}
	return &Endpoint{ID: id, SecretHash: secretHash, CreatedAt: now, ExpiresAt: expiresAt}, nil
}

func (s *SQLiteStore) EnsureEndpoint(ctx context.Context, id string, ttl time.Duration) (*Endpoint, bool, error) {
	ep, err := s.GetEndpoint(ctx, id)
	switch {
	case err == nil:
		if s.now().Before(ep.ExpiresAt) {
			return ep, false, nil
		}
		// Expired but not swept yet: the ID starts a new life as a
		// fresh unprotected endpoint.
		if err := s.DeleteEndpoint(ctx, id); err != nil {
			return nil, false, err
		}
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	// INSERT OR IGNORE absorbs a concurrent creator racing on the same
	// ID; whoever loses the race reads the winner's row back.
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO endpoints (id, secret_hash, created_at, expires_at) VALUES (?, '', ?, ?)",
		id, now, now.Add(ttl))
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure endpoint: %w", err)
	}
	inserted, _ := res.RowsAffected()

	ep, err = s.GetEndpoint(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return ep, inserted > 0, nil
}

func (s *SQLiteStore) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	var e Endpoint
	err := s.db.QueryRowContext(ctx,
		"SELECT id, secret_hash, created_at, expires_at FROM endpoints WHERE id = ?", id).
		Scan(&e.ID, &e.SecretHash, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) RefreshExpiration(ctx context.Context, id string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE endpoints SET expires_at = ? WHERE id = ?", s.now().Add(ttl), id)
	if err != nil {
		return fmt.Errorf("failed to refresh expiration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteEndpoint(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM endpoints WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete endpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveRequest(ctx context.Context, req *Request) error {
	headersJSON, err := json.Marshal(req.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	queryJSON, err := json.Marshal(req.Query)
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (endpoint_id, method, path, headers, query, body, truncated, ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.EndpointID, req.Method, req.Path, string(headersJSON), string(queryJSON),
		req.Body, req.Truncated, req.IP, now)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	req.ID, _ = res.LastInsertId()
	req.CreatedAt = now
	return nil
}

const requestColumns = "id, endpoint_id, method, path, headers, query, body, truncated, ip, created_at"

func scanRequest(scan func(dest ...any) error) (*Request, error) {
	var r Request
	var headers, query string
	var body, ip sql.NullString
	if err := scan(&r.ID, &r.EndpointID, &r.Method, &r.Path, &headers, &query, &body, &r.Truncated, &ip, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headers), &r.Headers); err != nil {
		return nil, fmt.Errorf("failed to decode headers: %w", err)
	}
	if err := json.Unmarshal([]byte(query), &r.Query); err != nil {
		return nil, fmt.Errorf("failed to decode query: %w", err)
	}
	if body.Valid {
		r.Body = &body.String
	}
	if ip.Valid {
		r.IP = &ip.String
	}
	return &r, nil
}

func (s *SQLiteStore) ListRequests(ctx context.Context, endpointID string, limit int) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE endpoint_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var reqs []*Request
	for rows.Next() {
		r, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

func (s *SQLiteStore) GetRequest(ctx context.Context, endpointID string, id int64) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE endpoint_id = ? AND id = ?
	`, endpointID, id)
	r, err := scanRequest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) DeleteRequest(ctx context.Context, endpointID string, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM requests WHERE endpoint_id = ? AND id = ?", endpointID, id)
	if err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ClearRequests(ctx context.Context, endpointID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM requests WHERE endpoint_id = ?", endpointID)
	if err != nil {
		return fmt.Errorf("failed to clear requests: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PruneOldRequests(ctx context.Context, endpointID string, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM requests
		WHERE endpoint_id = ? AND id NOT IN (
			SELECT id FROM requests WHERE endpoint_id = ? ORDER BY id DESC LIMIT ?
		)
	`, endpointID, endpointID, keep)
	if err != nil {
		return fmt.Errorf("failed to prune requests: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Cleanup(ctx context.Context) error {
	// Deleting expired endpoints cascades to their requests.
	_, err := s.db.ExecContext(ctx, "DELETE FROM endpoints WHERE expires_at <= ?", s.now())
	if err != nil {
		return fmt.Errorf("failed to clean up expired endpoints: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MaybeCleanup(ctx context.Context) error {
	s.sweepMu.Lock()
	now := s.now()
	if now.Sub(s.lastSweep) < sweepInterval {
		s.sweepMu.Unlock()
		return nil
	}
	s.lastSweep = now
	s.sweepMu.Unlock()

	return s.Cleanup(ctx)
}
