package assets

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"curator/internal/logging"
	"curator/internal/storage"
)

// Cache is a content-addressed artwork store. Files land under
// root/ab/<sha256>.<ext> so identical bytes fetched for different entities
// occupy disk once; the inventory table tracks how many candidates point at
// each blob.
type Cache struct {
	root   string
	db     *sql.DB
	logger *slog.Logger
}

// NewCache builds a cache rooted at dir, creating it if needed.
func NewCache(dir string, db *sql.DB, logger *slog.Logger) (*Cache, error) {
	root := strings.TrimSpace(dir)
	if root == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{
		root:   root,
		db:     db,
		logger: logging.NewComponentLogger(logger, "asset-cache"),
	}, nil
}

// ContentHash returns the hex sha256 of the payload.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores the payload, returning its content hash and cache path. When the
// blob already exists only the reference count moves; the file is written
// atomically via a temp file so a crash never leaves a partial blob under its
// final name.
func (c *Cache) Put(ctx context.Context, data []byte, ext string) (string, string, error) {
	if len(data) == 0 {
		return "", "", errors.New("refusing to cache empty payload")
	}
	hash := ContentHash(data)
	path := c.pathFor(hash, ext)

	storedPath, claimed, err := c.addReference(ctx, hash)
	if err != nil {
		return "", "", err
	}
	if claimed {
		// The blob was first stored under whatever extension its first URL
		// carried; that path is the one on disk.
		return hash, storedPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", fmt.Errorf("create cache shard: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", "", fmt.Errorf("finalize blob: %w", err)
	}

	_, err = c.db.ExecContext(
		ctx,
		`INSERT INTO cache_inventory (content_hash, cache_path, file_size_bytes, reference_count, created_at)
         VALUES (?, ?, ?, 1, ?)`,
		hash,
		path,
		int64(len(data)),
		storage.FormatTime(time.Now()),
	)
	if err != nil {
		return "", "", fmt.Errorf("record cache entry: %w", err)
	}
	c.logger.DebugContext(ctx, "cached new blob",
		logging.String("content_hash", hash),
		logging.Int("size_bytes", len(data)),
	)
	return hash, path, nil
}

// AddRef records another candidate pointing at an existing blob, keeping the
// inventory reference count equal to the number of candidates sharing the
// hash. Reports whether an inventory entry existed to claim.
func (c *Cache) AddRef(ctx context.Context, hash string) (bool, error) {
	_, claimed, err := c.addReference(ctx, hash)
	return claimed, err
}

// addReference bumps the refcount when the entry exists and returns the
// stored cache path. The single UPDATE is the atomicity guarantee; no
// read-modify-write window exists.
func (c *Cache) addReference(ctx context.Context, hash string) (string, bool, error) {
	row := c.db.QueryRowContext(
		ctx,
		`UPDATE cache_inventory SET reference_count = reference_count + 1
         WHERE content_hash = ? RETURNING cache_path`,
		hash,
	)
	var storedPath string
	err := row.Scan(&storedPath)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("add cache reference: %w", err)
	}
	return storedPath, true, nil
}

// Release drops one reference. The blob stays on disk until Prune runs, so a
// release followed by a re-add never redownloads.
func (c *Cache) Release(ctx context.Context, hash string) error {
	_, err := c.db.ExecContext(
		ctx,
		`UPDATE cache_inventory SET reference_count = reference_count - 1
         WHERE content_hash = ? AND reference_count > 0`,
		hash,
	)
	if err != nil {
		return fmt.Errorf("release cache reference: %w", err)
	}
	return nil
}

// Lookup returns the inventory entry for a hash, or nil when absent.
func (c *Cache) Lookup(ctx context.Context, hash string) (*CacheEntry, error) {
	row := c.db.QueryRowContext(
		ctx,
		`SELECT content_hash, cache_path, file_size_bytes, reference_count, created_at
         FROM cache_inventory WHERE content_hash = ?`,
		hash,
	)
	entry, err := scanCacheEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup cache entry: %w", err)
	}
	return entry, nil
}

// Read loads a cached blob by hash.
func (c *Cache) Read(ctx context.Context, hash string) ([]byte, error) {
	entry, err := c.Lookup(ctx, hash)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("cache entry %s not found", hash)
	}
	data, err := os.ReadFile(entry.CachePath)
	if err != nil {
		return nil, fmt.Errorf("read cached blob: %w", err)
	}
	return data, nil
}

// Prune removes blobs nothing references anymore. Returns the number of
// entries removed and the bytes reclaimed.
func (c *Cache) Prune(ctx context.Context) (int, int64, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT content_hash, cache_path, file_size_bytes, reference_count, created_at
         FROM cache_inventory WHERE reference_count <= 0`,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("list unreferenced entries: %w", err)
	}
	var stale []*CacheEntry
	for rows.Next() {
		entry, err := scanCacheEntry(rows)
		if err != nil {
			rows.Close()
			return 0, 0, err
		}
		stale = append(stale, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	var removed int
	var reclaimed int64
	for _, entry := range stale {
		if err := os.Remove(entry.CachePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.WarnContext(ctx, "failed to remove stale blob",
				logging.String("cache_path", entry.CachePath),
				logging.Error(err),
			)
			continue
		}
		if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_inventory WHERE content_hash = ?`, entry.ContentHash); err != nil {
			return removed, reclaimed, fmt.Errorf("delete cache entry: %w", err)
		}
		removed++
		reclaimed += entry.FileSizeBytes
	}
	if removed > 0 {
		c.logger.InfoContext(ctx, "pruned artwork cache",
			logging.Int("entries", removed),
			logging.Int64("reclaimed_bytes", reclaimed),
		)
	}
	return removed, reclaimed, nil
}

// Stats summarizes inventory usage.
func (c *Cache) Stats(ctx context.Context) (entries int, totalBytes int64, err error) {
	row := c.db.QueryRowContext(ctx, `SELECT COUNT(1), COALESCE(SUM(file_size_bytes), 0) FROM cache_inventory`)
	if err := row.Scan(&entries, &totalBytes); err != nil {
		return 0, 0, fmt.Errorf("cache stats: %w", err)
	}
	return entries, totalBytes, nil
}

func (c *Cache) pathFor(hash, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return filepath.Join(c.root, hash[:2], hash+"."+ext)
}

func scanCacheEntry(scanner interface{ Scan(dest ...any) error }) (*CacheEntry, error) {
	var (
		entry      CacheEntry
		createdRaw string
	)
	if err := scanner.Scan(&entry.ContentHash, &entry.CachePath, &entry.FileSizeBytes, &entry.ReferenceCount, &createdRaw); err != nil {
		return nil, err
	}
	if created, err := storage.ParseTime(createdRaw); err == nil {
		entry.CreatedAt = created
	}
	return &entry, nil
}
