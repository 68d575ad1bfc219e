package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"sofascraper/internal/domain"
)

// Store persists dated proxy snapshots under a directory:
//
//	<dir>/2025_04_04.json      validated snapshot
//	<dir>/raw/2025_04_04.json  unfiltered audit snapshot
//
// Snapshots are immutable once written; a refresh on the same day simply
// overwrites the day file (last write wins, no merge).
type Store struct {
	Dir string
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

const fileDateLayout = "2006_01_02"

// Save writes the records as a JSON array keyed by today's date. When
// unfiltered is set the file lands in the raw/ subdirectory, which keeps an
// audit trail of every candidate alongside the validated set.
func (s *Store) Save(records []domain.ProxyRecord, unfiltered bool) (string, error) {
	dir := s.Dir
	if unfiltered {
		dir = filepath.Join(dir, "raw")
	}

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	path := filepath.Join(dir, time.Now().UTC().Format(fileDateLayout)+".json")

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	log.Debug("Snapshot written", "path", path, "records", len(records))
	return path, nil
}

// LoadLatest returns the snapshot with the greatest modification time. A
// missing or empty directory is a recoverable state upstream, so it yields an
// empty slice with a warning instead of an error.
func (s *Store) LoadLatest() []domain.ProxyRecord {
	path := s.latestSnapshotPath()
	if path == "" {
		log.Warn("No proxy snapshot found", "dir", s.Dir)
		return []domain.ProxyRecord{}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Failed to read proxy snapshot", "path", path, "error", err)
		return []domain.ProxyRecord{}
	}

	var records []domain.ProxyRecord
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warn("Failed to parse proxy snapshot", "path", path, "error", err)
		return []domain.ProxyRecord{}
	}

	log.Debug("Snapshot loaded", "path", path, "records", len(records))
	return records
}

// IsFresh reports whether the newest snapshot is younger than maxAgeHours,
// returning its path alongside. No snapshot means not fresh.
func (s *Store) IsFresh(maxAgeHours float64) (bool, string) {
	path := s.latestSnapshotPath()
	if path == "" {
		return false, ""
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, ""
	}

	ageHours := time.Since(info.ModTime()).Hours()
	return ageHours <= maxAgeHours, path
}

func (s *Store) latestSnapshotPath() string {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*.json"))
	if err != nil || len(matches) == 0 {
		return ""
	}

	var newest string
	var newestMod time.Time
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = match
			newestMod = info.ModTime()
		}
	}

	return newest
}
