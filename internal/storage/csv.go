package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/benmccoy/go-nem-collector/internal/models"
	"github.com/benmccoy/go-nem-collector/internal/nemerrors"
)

// CSVStore persists datasets as one CSV file per (region, resolution) under a
// base directory, e.g. data/SA_30m.csv. Saves merge with rows already on disk
// and rewrite the file through a temp-file-and-atomic-rename so a file is
// never left partially truncated. Writers to the same key are serialized;
// writers to different keys do not block each other.
type CSVStore struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCSVStore creates a CSV store rooted at dir, creating it if needed.
func NewCSVStore(dir string, logger *slog.Logger) (*CSVStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	return &CSVStore{
		dir:    dir,
		logger: logger.With("component", "csv_store"),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// keyLock returns the per-series writer lock.
func (s *CSVStore) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[key] == nil {
		s.locks[key] = &sync.Mutex{}
	}
	return s.locks[key]
}

func (s *CSVStore) path(region models.Region, res models.Resolution) string {
	return filepath.Join(s.dir, storeKey(region, res)+".csv")
}

// Save implements DatasetStore.
func (s *CSVStore) Save(ctx context.Context, ds *models.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := storeKey(ds.Region, ds.Resolution)
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(ds.Region, ds.Resolution)

	// Merge: keep existing rows outside the saved range, overwrite inside.
	merged, err := s.readAll(path, ds.Region)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read existing store %s: %w", path, err)
	}
	if merged == nil {
		merged = make(map[time.Time]models.Entry)
	}
	for ts := range merged {
		if ds.Requested.Contains(ts) {
			delete(merged, ts)
		}
	}
	for _, e := range ds.Entries() {
		if !e.Empty() {
			merged[e.Timestamp] = e
		}
	}

	if err := s.writeAtomic(path, merged); err != nil {
		return err
	}

	s.logger.Info("dataset saved",
		"region", ds.Region,
		"resolution", ds.Resolution,
		"range", ds.Requested.String(),
		"rows", len(merged),
		"path", path)
	return nil
}

// Load implements DatasetStore.
func (s *CSVStore) Load(ctx context.Context, region models.Region, res models.Resolution, requested models.Range) (*models.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := requested.Validate(); err != nil {
		return nil, nemerrors.InvalidRange("%v", err)
	}

	path := s.path(region, res)
	stored, err := s.readAll(path, region)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no store file for %s %s", nemerrors.ErrNotFound, region, res)
		}
		return nil, fmt.Errorf("failed to read store %s: %w", path, err)
	}

	return assemble(region, res, requested, stored, "store:csv:"+path)
}

// HealthCheck implements DatasetStore.
func (s *CSVStore) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("storage directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path %s is not a directory", s.dir)
	}
	return nil
}

// Close implements DatasetStore. CSV files are closed per operation.
func (s *CSVStore) Close() error { return nil }

// readAll loads every row of one series file keyed by timestamp.
func (s *CSVStore) readAll(path string, region models.Region) (map[time.Time]models.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed CSV: %w", err)
	}
	if len(rows) == 0 {
		return map[time.Time]models.Entry{}, nil
	}

	header := rows[0]
	entries := make(map[time.Time]models.Entry, len(rows)-1)
	for i, row := range rows[1:] {
		entry, err := decodeRow(region, header, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries[entry.Timestamp] = entry
	}
	return entries, nil
}

// writeAtomic writes all rows to a temp file in the same directory and
// renames it over the target.
func (s *CSVStore) writeAtomic(path string, entries map[time.Time]models.Entry) error {
	timestamps := make([]time.Time, 0, len(entries))
	for ts := range entries {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after successful rename

	writer := csv.NewWriter(tmp)
	if err := writer.Write(columnNames()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, ts := range timestamps {
		if err := writer.Write(encodeEntry(entries[ts])); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush rows: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", tmpPath, path, err)
	}
	return nil
}
