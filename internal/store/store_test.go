package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/package-collection-index/internal/indexerr"
	"github.com/mvp-joe/package-collection-index/internal/model"
)

// Test Plan for Store:
// - Empty store: list(nil) is empty, get(anyId) is NotFound
// - Put then get round-trips the exact collection
// - List-identity: putting several collections, list(nil) returns all of them
// - Orphan-free FTS: remove deletes all FTS rows and trie entries for the id
// - Replace semantics: putting a collection twice keeps exactly one primary row
// - Cache-consistency: clearing the cache still serves get from the primary table
// - FTS packages hit: searchPackages finds a package by its summary text
// - Target prefix via trie: after warm-up, prefix search finds a target that exact match misses
// - Case-insensitive target search: upper and lower case queries return the same result
// - Close idempotence: a second Close call returns nil without retrying

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Temporary())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func syncPut(t *testing.T, s *Store, col *model.Collection) {
	t.Helper()
	done := make(chan error, 1)
	s.Put(col, func(err error) { done <- err })
	require.NoError(t, <-done)
}

func syncRemove(t *testing.T, s *Store, id model.CollectionIdentifier) {
	t.Helper()
	done := make(chan error, 1)
	s.Remove(id, func(err error) { done <- err })
	require.NoError(t, <-done)
}

func syncGet(s *Store, id model.CollectionIdentifier) (*model.Collection, error) {
	done := make(chan struct {
		col *model.Collection
		err error
	}, 1)
	s.Get(id, func(col *model.Collection, err error) {
		done <- struct {
			col *model.Collection
			err error
		}{col, err}
	})
	r := <-done
	return r.col, r.err
}

func syncList(s *Store, ids []model.CollectionIdentifier) ([]*model.Collection, error) {
	done := make(chan struct {
		cols []*model.Collection
		err  error
	}, 1)
	s.List(ids, func(cols []*model.Collection, err error) {
		done <- struct {
			cols []*model.Collection
			err  error
		}{cols, err}
	})
	r := <-done
	return r.cols, r.err
}

func syncSearchPackages(s *Store, ids []model.CollectionIdentifier, query string) ([]PackageSearchItem, error) {
	done := make(chan struct {
		items []PackageSearchItem
		err   error
	}, 1)
	s.SearchPackages(ids, query, func(items []PackageSearchItem, err error) {
		done <- struct {
			items []PackageSearchItem
			err   error
		}{items, err}
	})
	r := <-done
	return r.items, r.err
}

func syncSearchTargets(s *Store, ids []model.CollectionIdentifier, query string, mt MatchType) ([]TargetSearchItem, error) {
	done := make(chan struct {
		items []TargetSearchItem
		err   error
	}, 1)
	s.SearchTargets(ids, query, mt, func(items []TargetSearchItem, err error) {
		done <- struct {
			items []TargetSearchItem
			err   error
		}{items, err}
	})
	r := <-done
	return r.items, r.err
}

func ptr(s string) *string { return &s }

func oneTargetCollection(url, targetName string, summary *string, at time.Time) *model.Collection {
	return &model.Collection{
		Identifier: model.JSONIdentifier(url),
		Source:     model.CollectionSource{Type: model.SourceTypeJSON, URL: url},
		Name:       "example collection",
		Packages: []model.Package{
			{
				Reference: model.PackageReference{URL: "https://github.com/acme/lib"},
				Summary:   summary,
				Versions: []model.Version{
					{
						Version:     "1.0.0",
						PackageName: "Lib",
						Targets:     []model.Target{{Name: targetName}},
						Products:    []model.Product{{Name: "Lib", Type: "library", TargetNames: []string{targetName}}},
					},
				},
			},
		},
		CreatedAt:       at,
		LastProcessedAt: at,
	}
}

func TestEmptyStore(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	cols, err := syncList(s, nil)
	require.NoError(t, err)
	assert.Empty(t, cols)

	_, err = syncGet(s, model.JSONIdentifier("https://example.org/missing.json"))
	assert.True(t, errors.Is(err, indexerr.ErrNotFound))
}

func TestPutThenGet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	col := oneTargetCollection("https://example.org/c1.json", "Lib", nil, now)

	syncPut(t, s, col)

	got, err := syncGet(s, col.Identifier)
	require.NoError(t, err)
	assert.Equal(t, col, got)
}

func TestListIdentity(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	c1 := oneTargetCollection("https://example.org/c1.json", "Lib", nil, now)
	c2 := oneTargetCollection("https://example.org/c2.json", "Core", nil, now)

	syncPut(t, s, c1)
	syncPut(t, s, c2)

	cols, err := syncList(s, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []*model.Collection{c1, c2}, cols)
}

func TestOrphanFreeFTS(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	col := oneTargetCollection("https://example.org/c1.json", "NetworkCore", nil, now)
	syncPut(t, s, col)

	syncRemove(t, s, col.Identifier)

	db, _, err := s.lifecycle.Connection()
	require.NoError(t, err)

	idB64, err := model.EncodeIdentifierBase64(col.Identifier)
	require.NoError(t, err)

	var packagesCount, targetsCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM fts_packages WHERE collection_id_blob_base64 = ?`, idB64).Scan(&packagesCount))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM fts_targets WHERE collection_id_blob_base64 = ?`, idB64).Scan(&targetsCount))
	assert.Zero(t, packagesCount)
	assert.Zero(t, targetsCount)

	_, err = s.trie.Find("networkcore")
	assert.True(t, errors.Is(err, indexerr.ErrNotFound))
}

func TestReplaceSemantics(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	first := oneTargetCollection("https://example.org/c1.json", "Lib", ptr("first summary"), now)
	syncPut(t, s, first)

	second := oneTargetCollection("https://example.org/c1.json", "Lib", ptr("second summary"), now.Add(time.Hour))
	syncPut(t, s, second)

	db, _, err := s.lifecycle.Connection()
	require.NoError(t, err)
	var rowCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM package_collections`).Scan(&rowCount))
	assert.Equal(t, 1, rowCount)

	got, err := syncGet(s, first.Identifier)
	require.NoError(t, err)
	assert.Equal(t, "second summary", *got.Packages[0].Summary)
}

func TestCacheConsistency(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	col := oneTargetCollection("https://example.org/c1.json", "Lib", nil, now)
	syncPut(t, s, col)

	s.cache.Clear()

	got, err := syncGet(s, col.Identifier)
	require.NoError(t, err)
	assert.Equal(t, col, got)
}

func TestSearchPackagesFTSHit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	hit := oneTargetCollection("https://example.org/c1.json", "Crypto", ptr("cryptography primitives"), now)
	miss := oneTargetCollection("https://example.org/c2.json", "Other", ptr("unrelated utilities"), now)
	syncPut(t, s, hit)
	syncPut(t, s, miss)

	items, err := syncSearchPackages(s, nil, "cryptography")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []model.CollectionIdentifier{hit.Identifier}, items[0].Collections)
}

func TestSearchTargetsPrefixViaTrie(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	col := oneTargetCollection("https://example.org/c1.json", "NetworkCore", nil, now)
	syncPut(t, s, col)

	db, _, err := s.lifecycle.Connection()
	require.NoError(t, err)
	s.lifecycle.WarmupTrie(s.query, s.trie, db)
	require.True(t, s.lifecycle.TrieReady())

	prefixHits, err := syncSearchTargets(s, nil, "network", Prefix)
	require.NoError(t, err)
	require.Len(t, prefixHits, 1)
	assert.Equal(t, "networkcore", prefixHits[0].Target)

	exactHits, err := syncSearchTargets(s, nil, "network", ExactMatch)
	require.NoError(t, err)
	assert.Empty(t, exactHits)
}

func TestCaseInsensitiveTargetSearch(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	col := oneTargetCollection("https://example.org/c1.json", "Lib", nil, now)
	syncPut(t, s, col)

	lower, err := syncSearchTargets(s, nil, "lib", ExactMatch)
	require.NoError(t, err)
	upper, err := syncSearchTargets(s, nil, "LIB", ExactMatch)
	require.NoError(t, err)
	assert.Equal(t, lower, upper)
}

func TestCloseIdempotence(t *testing.T) {
	t.Parallel()

	s, err := New(Temporary())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
