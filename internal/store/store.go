// Package store is the durable, concurrent, cache-backed package-
// collection index: a persistent SQLite+FTS4 primary store, an in-memory
// object cache, a prefix-trie target-search accelerator, and a
// callback-oriented public API running each call on its own goroutine
// over a shared SQL handle (§5 "parallel worker pool of unbounded
// width").
package store

import (
	"github.com/mvp-joe/package-collection-index/internal/collcache"
	"github.com/mvp-joe/package-collection-index/internal/model"
	"github.com/mvp-joe/package-collection-index/internal/trie"
)

// Store is the public entry point wiring together the Gateway, Writer,
// QueryEngine, Lifecycle, Cache, and Trie components.
type Store struct {
	lifecycle *Lifecycle
	writer    *Writer
	query     *QueryEngine
	cache     *collcache.Cache
	trie      *targetTrie
	diag      Diagnostics
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithDiagnostics overrides the default log-backed Diagnostics sink.
func WithDiagnostics(d Diagnostics) Option {
	return func(s *Store) { s.diag = d }
}

// New builds a Store backed by location. The SQL handle and schema are
// not created until the first operation reaches the Gateway (§4.D "lazy
// open").
func New(location Location, opts ...Option) (*Store, error) {
	cache, err := collcache.New()
	if err != nil {
		return nil, err
	}

	s := &Store{
		lifecycle: NewLifecycle(NewGateway(location, NewOSFileSystem())),
		writer:    NewWriter(),
		query:     NewQueryEngine(),
		cache:     cache,
		trie:      trie.New[TrieValue](),
		diag:      NewLogDiagnostics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put inserts or replaces col, then invokes callback with any error. It
// runs on its own goroutine; callers observe no ordering guarantees
// between unrelated calls (§5).
func (s *Store) Put(col *model.Collection, callback func(error)) {
	go func() {
		callback(s.put(col))
	}()
}

func (s *Store) put(col *model.Collection) error {
	db, useSearchIndices, err := s.lifecycle.Connection()
	if err != nil {
		return err
	}
	return s.writer.Put(db, s.trie, s.cache, useSearchIndices, col)
}

// Remove deletes the collection identified by id, if present.
func (s *Store) Remove(id model.CollectionIdentifier, callback func(error)) {
	go func() {
		callback(s.remove(id))
	}()
}

func (s *Store) remove(id model.CollectionIdentifier) error {
	db, useSearchIndices, err := s.lifecycle.Connection()
	if err != nil {
		return err
	}
	return s.writer.Remove(db, s.trie, s.cache, useSearchIndices, id)
}

// Get retrieves a single collection by identifier.
func (s *Store) Get(id model.CollectionIdentifier, callback func(*model.Collection, error)) {
	go func() {
		col, err := s.get(id)
		callback(col, err)
	}()
}

func (s *Store) get(id model.CollectionIdentifier) (*model.Collection, error) {
	db, _, err := s.lifecycle.Connection()
	if err != nil {
		return nil, err
	}
	return s.query.Get(db, s.cache, id)
}

// List retrieves every collection in ids, or every stored collection if
// ids is empty.
func (s *Store) List(ids []model.CollectionIdentifier, callback func([]*model.Collection, error)) {
	go func() {
		cols, err := s.list(ids)
		callback(cols, err)
	}()
}

func (s *Store) list(ids []model.CollectionIdentifier) ([]*model.Collection, error) {
	db, _, err := s.lifecycle.Connection()
	if err != nil {
		return nil, err
	}
	return s.query.List(db, s.cache, s.diag, ids)
}

// SearchPackages full-text searches package attributes across the given
// candidate collections (or every collection, if ids is empty).
func (s *Store) SearchPackages(ids []model.CollectionIdentifier, query string, callback func([]PackageSearchItem, error)) {
	go func() {
		items, err := s.searchPackages(ids, query)
		callback(items, err)
	}()
}

func (s *Store) searchPackages(ids []model.CollectionIdentifier, query string) ([]PackageSearchItem, error) {
	db, useSearchIndices, err := s.lifecycle.Connection()
	if err != nil {
		return nil, err
	}
	return s.query.SearchPackages(db, s.cache, s.diag, useSearchIndices, ids, query)
}

// FindPackage locates the package with the given identity across the
// candidate collections, returning the value from the most recently
// processed collection that contains it.
func (s *Store) FindPackage(identity model.PackageIdentity, ids []model.CollectionIdentifier, callback func(PackageLookupItem, error)) {
	go func() {
		item, err := s.findPackage(identity, ids)
		callback(item, err)
	}()
}

func (s *Store) findPackage(identity model.PackageIdentity, ids []model.CollectionIdentifier) (PackageLookupItem, error) {
	db, useSearchIndices, err := s.lifecycle.Connection()
	if err != nil {
		return PackageLookupItem{}, err
	}
	return s.query.FindPackage(db, s.cache, s.diag, useSearchIndices, identity, ids)
}

// SearchTargets searches target names across the candidate collections,
// using the trie once warm-up has completed, the FTS table before that,
// or a linear scan if search indices are unavailable.
func (s *Store) SearchTargets(ids []model.CollectionIdentifier, query string, matchType MatchType, callback func([]TargetSearchItem, error)) {
	go func() {
		items, err := s.searchTargets(ids, query, matchType)
		callback(items, err)
	}()
}

func (s *Store) searchTargets(ids []model.CollectionIdentifier, query string, matchType MatchType) ([]TargetSearchItem, error) {
	db, useSearchIndices, err := s.lifecycle.Connection()
	if err != nil {
		return nil, err
	}

	if useSearchIndices {
		s.lifecycle.WarmupTrie(s.query, s.trie, db)
	}

	return s.query.SearchTargets(db, s.cache, s.diag, useSearchIndices, s.trie, s.lifecycle.TrieReady(), ids, query, matchType)
}

// Close shuts down the store, retrying the underlying database close per
// §4.A/§4.G. Safe to call more than once.
func (s *Store) Close() error {
	s.cache.Close()
	return s.lifecycle.Close()
}

// Stats returns a read-only snapshot of the store's internal counters,
// the supplemental diagnostic surface grounded in the teacher's
// GetFTSStats.
func (s *Store) Stats(callback func(Stats, error)) {
	go func() {
		stats, err := s.stats()
		callback(stats, err)
	}()
}

func (s *Store) stats() (Stats, error) {
	db, useSearchIndices, err := s.lifecycle.Connection()
	if err != nil {
		return Stats{}, err
	}

	var primaryCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM package_collections`).Scan(&primaryCount); err != nil {
		return Stats{}, err
	}

	stats := Stats{
		PrimaryRowCount:  primaryCount,
		UseSearchIndices: useSearchIndices,
		TrieReady:        s.lifecycle.TrieReady(),
		TrieWordCount:    s.trie.Count(),
	}

	if useSearchIndices {
		if err := db.QueryRow(`SELECT COUNT(*) FROM fts_packages`).Scan(&stats.PackagesFTSRows); err != nil {
			return Stats{}, err
		}
		if err := db.QueryRow(`SELECT COUNT(*) FROM fts_targets`).Scan(&stats.TargetsFTSRows); err != nil {
			return Stats{}, err
		}
	}

	return stats, nil
}
