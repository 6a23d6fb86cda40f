package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// PostgresIndex stores cache entries in the speech_cache table. Write-once
// semantics come from ON CONFLICT DO NOTHING on the hash primary key.
type PostgresIndex struct {
	db *pgxpool.Pool
}

func NewPostgresIndex(db *pgxpool.Pool) *PostgresIndex {
	return &PostgresIndex{db: db}
}

const entryColumns = `hash, ref, content_type, size, provider, created_at, expires_at`

func (p *PostgresIndex) Get(ctx context.Context, hash string) (speech.CacheEntry, error) {
	row := p.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM speech_cache WHERE hash = $1`, hash)
	return scanEntry(row)
}

func (p *PostgresIndex) PutIfAbsent(ctx context.Context, entry speech.CacheEntry) (speech.CacheEntry, bool, error) {
	var expires *time.Time
	if !entry.ExpiresAt.IsZero() {
		expires = &entry.ExpiresAt
	}

	tag, err := p.db.Exec(ctx, `
		INSERT INTO speech_cache (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (hash) DO NOTHING`,
		entry.Hash, entry.Ref, entry.ContentType, entry.Size, entry.Provider,
		entry.CreatedAt, expires,
	)
	if err != nil {
		return speech.CacheEntry{}, false, fmt.Errorf("insert cache entry %s: %w", entry.Hash, err)
	}
	if tag.RowsAffected() == 1 {
		return entry, true, nil
	}

	existing, err := p.Get(ctx, entry.Hash)
	if err != nil {
		return speech.CacheEntry{}, false, err
	}
	return existing, false, nil
}

func (p *PostgresIndex) Delete(ctx context.Context, hash string) error {
	_, err := p.db.Exec(ctx, `DELETE FROM speech_cache WHERE hash = $1`, hash)
	if err != nil {
		return fmt.Errorf("delete cache entry %s: %w", hash, err)
	}
	return nil
}

func (p *PostgresIndex) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	row := p.db.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM speech_cache`)
	if err := row.Scan(&s.Count, &s.TotalSize); err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	return s, nil
}

func (p *PostgresIndex) ListExpired(ctx context.Context, now time.Time, limit int) ([]speech.CacheEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM speech_cache
		WHERE expires_at IS NOT NULL AND expires_at < $1 ORDER BY expires_at`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expired entries: %w", err)
	}
	defer rows.Close()

	var out []speech.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (speech.CacheEntry, error) {
	var entry speech.CacheEntry
	var expires *time.Time
	err := row.Scan(
		&entry.Hash, &entry.Ref, &entry.ContentType, &entry.Size,
		&entry.Provider, &entry.CreatedAt, &expires,
	)
	if err == pgx.ErrNoRows {
		return speech.CacheEntry{}, ErrMiss
	}
	if err != nil {
		return speech.CacheEntry{}, fmt.Errorf("scan cache entry: %w", err)
	}
	if expires != nil {
		entry.ExpiresAt = *expires
	}
	return entry, nil
}
