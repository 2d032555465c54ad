// Package cssstore is the content-addressed stylesheet store. Bodies are
// normalized, hashed, compressed, and shared across scans through a
// reference count; unreferenced bodies linger until their TTL expires and a
// sweep collects them.
package cssstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/storage"
)

// Body framing: the first stored byte says how the rest is encoded. Raw
// passthrough is kept for bodies zstd cannot shrink (tiny or precompressed).
const (
	frameRaw  byte = 0x00
	frameZstd byte = 0x01
)

const dayMS = int64(24 * time.Hour / time.Millisecond)

// Store deduplicates stylesheet bodies by content hash.
type Store struct {
	db      *sql.DB
	ttlDays int
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	log     zerolog.Logger
}

// New builds a Store on top of the shared database handle.
func New(db *storage.DB, cfg config.CSSStoreConfig) (*Store, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init zstd decoder: %w", err)
	}
	return &Store{
		db:      db.Handle(),
		ttlDays: cfg.TTLDays,
		enc:     enc,
		dec:     dec,
		log:     monitoring.Component("cssstore"),
	}, nil
}

// Normalize strips a UTF-8 BOM and folds CRLF / bare CR line endings to LF.
// Hashing runs over the normalized bytes so cosmetic transport differences
// cannot defeat deduplication.
func Normalize(body []byte) []byte {
	body = bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF})
	body = bytes.ReplaceAll(body, []byte("\r\n"), []byte("\n"))
	body = bytes.ReplaceAll(body, []byte("\r"), []byte("\n"))
	return body
}

// PutResult reports where a body landed.
type PutResult struct {
	SHA           string
	Hit           bool // body already present; only the refcount moved
	OriginalBytes int64
	StoredBytes   int64
}

// Put stores a stylesheet body. The body is inserted only if its hash is new;
// either way the reference count is incremented and last_accessed is stamped,
// so a put racing a sweep simply re-inserts. Calling Put twice with the same
// content yields the same hash and a count of two.
func (s *Store) Put(ctx context.Context, body []byte) (*PutResult, error) {
	norm := Normalize(body)
	sum := sha256.Sum256(norm)
	sha := hex.EncodeToString(sum[:])

	stored := make([]byte, 1, len(norm)+1)
	stored[0] = frameZstd
	stored = s.enc.EncodeAll(norm, stored)
	if len(stored) >= len(norm)+1 {
		stored = append([]byte{frameRaw}, norm...)
	}

	res := &PutResult{
		SHA:           sha,
		OriginalBytes: int64(len(norm)),
		StoredBytes:   int64(len(stored)),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin put: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM css_content WHERE sha = ?`, sha).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to probe content %s: %w", sha[:12], err)
	}
	res.Hit = exists > 0

	now := time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO css_content (sha, body, original_bytes, compressed_bytes,
			reference_count, ttl_days, first_seen_ms, last_accessed_ms)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(sha) DO UPDATE SET
			reference_count  = reference_count + 1,
			last_accessed_ms = excluded.last_accessed_ms`,
		sha, stored, res.OriginalBytes, res.StoredBytes, s.ttlDays, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to store content %s: %w", sha[:12], err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit put: %w", err)
	}
	return res, nil
}

// Get returns the decompressed body for a hash and stamps last_accessed.
func (s *Store) Get(ctx context.Context, sha string) ([]byte, error) {
	var stored []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM css_content WHERE sha = ?`, sha).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load content %s: %w", short(sha), err)
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("content %s has an empty frame", short(sha))
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE css_content SET last_accessed_ms = ? WHERE sha = ?`,
		time.Now().UnixMilli(), sha); err != nil {
		return nil, fmt.Errorf("failed to stamp access on %s: %w", short(sha), err)
	}

	switch stored[0] {
	case frameRaw:
		return stored[1:], nil
	case frameZstd:
		body, err := s.dec.DecodeAll(stored[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress content %s: %w", short(sha), err)
		}
		return body, nil
	default:
		return nil, fmt.Errorf("content %s has unknown frame byte %#x", short(sha), stored[0])
	}
}

// Release decrements the reference count for a hash. The count never drops
// below zero and the body is never deleted here; reclamation belongs to
// Sweep alone.
func (s *Store) Release(ctx context.Context, shas ...string) error {
	for _, sha := range shas {
		_, err := s.db.ExecContext(ctx, `
			UPDATE css_content SET reference_count = reference_count - 1
			WHERE sha = ? AND reference_count > 0`, sha)
		if err != nil {
			return fmt.Errorf("failed to release content %s: %w", short(sha), err)
		}
	}
	return nil
}

// Meta returns a row's bookkeeping without its body.
func (s *Store) Meta(ctx context.Context, sha string) (*storage.ContentMeta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sha, original_bytes, compressed_bytes, reference_count, ttl_days,
		       first_seen_ms, last_accessed_ms
		FROM css_content WHERE sha = ?`, sha)

	var (
		m            storage.ContentMeta
		firstSeen    int64
		lastAccessed int64
	)
	err := row.Scan(&m.SHA, &m.OriginalBytes, &m.CompressedBytes,
		&m.ReferenceCount, &m.TTLDays, &firstSeen, &lastAccessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read content meta %s: %w", short(sha), err)
	}
	m.FirstSeen = time.UnixMilli(firstSeen)
	m.LastAccessed = time.UnixMilli(lastAccessed)
	return &m, nil
}

// SweepResult summarizes one collection pass.
type SweepResult struct {
	Deleted  int64
	Scanned  int64
	Duration time.Duration
}

// Sweep deletes bodies that are both unreferenced and past their TTL since
// last access. Referenced bodies are never touched regardless of age.
func (s *Store) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()

	var scanned int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM css_content`).Scan(&scanned)
	if err != nil {
		return nil, fmt.Errorf("failed to count content rows: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM css_content
		WHERE reference_count = 0
		  AND (? - last_accessed_ms) > (ttl_days * ?)`,
		start.UnixMilli(), dayMS)
	if err != nil {
		return nil, fmt.Errorf("sweep failed: %w", err)
	}
	deleted, _ := res.RowsAffected()

	out := &SweepResult{Deleted: deleted, Scanned: scanned, Duration: time.Since(start)}
	if deleted > 0 {
		s.log.Info().Int64("deleted", deleted).Int64("scanned", scanned).Msg("sweep collected expired content")
	}
	return out, nil
}

// RunSweeper runs Sweep on a fixed interval until the context ends. onSweep,
// when set, receives every successful pass.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration, onSweep func(*SweepResult)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error().Err(err).Msg("sweep pass failed")
				}
				continue
			}
			if onSweep != nil {
				onSweep(res)
			}
		}
	}
}

func short(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
