// Package manager opens and caches record stores for serving mode, where
// one base directory holds an archive per site (clinic). Stores are opened
// lazily, kept in a bounded LRU cache, and closed on eviction so a server
// hosting many sites does not hold every archive open at once.
package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	cerrors "github.com/sukeesh/drcopilot/pkg/common/errors"
	"github.com/sukeesh/drcopilot/pkg/store"
)

// SiteMetadata represents one site's archive as exposed by the API.
type SiteMetadata struct {
	ID           string `json:"id"`
	PatientCount int    `json:"patient_count,omitempty"`
}

const (
	MaxOpenArchives = 10
	SiteListTTL     = 1 * time.Minute
)

// ArchiveManager manages multiple RecordStore instances under one base dir.
type ArchiveManager struct {
	baseDir       string
	archives      *lru.Cache[string, *store.RecordStore]
	mu            sync.RWMutex
	readOnly      bool
	lowMem        bool
	cachedList    []SiteMetadata
	lastListBuild time.Time
}

// NewArchiveManager creates an ArchiveManager over baseDir.
func NewArchiveManager(baseDir string, readOnly, lowMem bool) *ArchiveManager {
	// Evicted stores are closed so the cache bounds open Badger instances.
	cache, _ := lru.NewWithEvict[string, *store.RecordStore](MaxOpenArchives, func(key string, value *store.RecordStore) {
		_ = value.Close()
	})

	return &ArchiveManager{
		baseDir:  baseDir,
		archives: cache,
		readOnly: readOnly,
		lowMem:   lowMem,
	}
}

// GetArchive retrieves a site's store, opening it if necessary.
func (m *ArchiveManager) GetArchive(siteID string) (*store.RecordStore, error) {
	if s, ok := m.archives.Get(siteID); ok {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check under lock
	if s, ok := m.archives.Get(siteID); ok {
		return s, nil
	}

	siteDir := filepath.Join(m.baseDir, siteID)
	if _, err := os.Stat(siteDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("site %s: %w", siteID, cerrors.ErrNotFound)
	}

	cfg := store.DefaultConfig(siteDir)
	cfg.ReadOnly = m.readOnly
	// Serving may coexist with a running ingestion against the same archive.
	cfg.BypassLockGuard = true
	if m.lowMem {
		cfg.BlockCacheSize = 64 << 20
		cfg.IndexCacheSize = 64 << 20
		cfg.Profile = "low-mem"
	}

	s, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive for site %s: %w", siteID, err)
	}

	m.archives.Add(siteID, s)
	return s, nil
}

// ListSites returns the available site archives. The listing is cached
// briefly because serving mode polls it.
func (m *ArchiveManager) ListSites() ([]SiteMetadata, error) {
	m.mu.RLock()
	if time.Since(m.lastListBuild) < SiteListTTL && m.cachedList != nil {
		list := make([]SiteMetadata, len(m.cachedList))
		copy(list, m.cachedList)
		m.mu.RUnlock()
		return list, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastListBuild) < SiteListTTL && m.cachedList != nil {
		list := make([]SiteMetadata, len(m.cachedList))
		copy(list, m.cachedList)
		return list, nil
	}

	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, err
	}

	var sites []SiteMetadata
	for _, entry := range entries {
		if entry.IsDir() {
			sites = append(sites, SiteMetadata{ID: entry.Name()})
		}
	}

	m.cachedList = sites
	m.lastListBuild = time.Now()

	return sites, nil
}

// CloseAll closes all open archives.
func (m *ArchiveManager) CloseAll() {
	m.archives.Purge()
}
