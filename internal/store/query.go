package store

import (
	"database/sql"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mvp-joe/package-collection-index/internal/collcache"
	"github.com/mvp-joe/package-collection-index/internal/indexerr"
	"github.com/mvp-joe/package-collection-index/internal/model"
)

// parallelDecodeThreshold is the blob count at or above which list
// decodes on a worker pool instead of serially (§4.F "list").
const parallelDecodeThreshold = 100

// chunkSize bounds the width of a single "key IN (?,...)" clause.
const chunkSize = 100

// QueryEngine is the Query Engine (§4.F): get, list, searchPackages,
// findPackage, searchTargets, plus trie warm-up.
type QueryEngine struct{}

// NewQueryEngine returns an empty QueryEngine.
func NewQueryEngine() *QueryEngine {
	return &QueryEngine{}
}

// Get is cache-first; on a miss it queries the primary table directly
// and does NOT populate the cache — only writes populate the cache, by
// design (§ open question 2).
func (q *QueryEngine) Get(db *sql.DB, cache *collcache.Cache, id model.CollectionIdentifier) (*model.Collection, error) {
	if col, ok := cache.Get(id); ok {
		return col, nil
	}

	var blob []byte
	err := db.QueryRow(`SELECT value FROM package_collections WHERE key = ? LIMIT 1`, id.DatabaseKey()).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, indexerr.NotFound(id.String())
	}
	if err != nil {
		return nil, indexerr.Backend("get", err)
	}

	col, decodeErr := model.Decode(blob)
	if decodeErr != nil {
		return nil, indexerr.Corrupt(id.String(), decodeErr)
	}
	return col, nil
}

// List fetches candidate collections. If ids is non-empty and every id is
// already cached, the cached values are returned in request order without
// touching the database. Otherwise it queries the primary table —
// chunked IN clauses when ids is given, a full scan otherwise — and
// decodes the blobs serially or in parallel depending on count.
func (q *QueryEngine) List(db *sql.DB, cache *collcache.Cache, diag Diagnostics, ids []model.CollectionIdentifier) ([]*model.Collection, error) {
	if len(ids) > 0 {
		if cached, ok := allCached(cache, ids); ok {
			return cached, nil
		}
	}

	blobs, _, err := fetchBlobs(db, ids)
	if err != nil {
		return nil, err
	}

	decoded, decodeErr := decodeBlobs(blobs)
	if decodeErr != nil {
		return nil, decodeErr
	}

	if len(decoded) < len(blobs) {
		diag.Warn("some stored collections could not be deserialized")
	}

	if len(ids) == 0 {
		return decoded, nil
	}
	return orderByIDs(decoded, ids), nil
}

func allCached(cache *collcache.Cache, ids []model.CollectionIdentifier) ([]*model.Collection, bool) {
	out := make([]*model.Collection, 0, len(ids))
	for _, id := range ids {
		col, ok := cache.Get(id)
		if !ok {
			return nil, false
		}
		out = append(out, col)
	}
	return out, true
}

func fetchBlobs(db *sql.DB, ids []model.CollectionIdentifier) ([][]byte, []string, error) {
	var blobs [][]byte
	var keys []string

	scanRows := func(rows *sql.Rows) error {
		defer rows.Close()
		for rows.Next() {
			var key string
			var blob []byte
			if err := rows.Scan(&key, &blob); err != nil {
				return indexerr.Backend("scan list row", err)
			}
			keys = append(keys, key)
			blobs = append(blobs, blob)
		}
		return rows.Err()
	}

	if len(ids) == 0 {
		rows, err := db.Query(`SELECT key, value FROM package_collections`)
		if err != nil {
			return nil, nil, indexerr.Backend("list all", err)
		}
		if err := scanRows(rows); err != nil {
			return nil, nil, err
		}
		return blobs, keys, nil
	}

	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id.DatabaseKey()
		}

		query := fmt.Sprintf(`SELECT key, value FROM package_collections WHERE key IN (%s)`, placeholders)
		rows, err := db.Query(query, args...)
		if err != nil {
			return nil, nil, indexerr.Backend("list chunk", err)
		}
		if err := scanRows(rows); err != nil {
			return nil, nil, err
		}
	}
	return blobs, keys, nil
}

func decodeBlobs(blobs [][]byte) ([]*model.Collection, error) {
	if len(blobs) < parallelDecodeThreshold {
		out := make([]*model.Collection, 0, len(blobs))
		for _, b := range blobs {
			col, err := model.Decode(b)
			if err != nil {
				continue
			}
			out = append(out, col)
		}
		return out, nil
	}

	results := make([]*model.Collection, len(blobs))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, b := range blobs {
		i, b := i, b
		g.Go(func() error {
			col, err := model.Decode(b)
			if err != nil {
				return nil // decode failures are tolerated, not propagated
			}
			results[i] = col
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*model.Collection, 0, len(blobs))
	for _, col := range results {
		if col != nil {
			out = append(out, col)
		}
	}
	return out, nil
}

// orderByIDs best-effort reorders decoded collections to match the
// request order of ids; decode failures simply drop from the result.
func orderByIDs(decoded []*model.Collection, ids []model.CollectionIdentifier) []*model.Collection {
	byKey := collectionsByKey(decoded)

	out := make([]*model.Collection, 0, len(ids))
	for _, id := range ids {
		if col, ok := byKey[id.DatabaseKey()]; ok {
			out = append(out, col)
		}
	}
	return out
}

// SearchPackages implements §4.F searchPackages: FTS MATCH when search
// indices are available, substring fallback scan otherwise. These paths
// are documented as non-equivalent (the FTS path cannot find infix
// matches inside tokens) and that asymmetry is preserved deliberately.
func (q *QueryEngine) SearchPackages(db *sql.DB, cache *collcache.Cache, diag Diagnostics, useSearchIndices bool, ids []model.CollectionIdentifier, query string) ([]PackageSearchItem, error) {
	candidates, err := q.List(db, cache, diag, ids)
	if err != nil {
		return nil, err
	}
	byKey := collectionsByKey(candidates)

	items := newPackageItemSet()

	if useSearchIndices {
		rows, err := db.Query(`SELECT collection_id_blob_base64, repository_url FROM fts_packages WHERE fts_packages MATCH ?`, query)
		if err != nil {
			return nil, indexerr.Backend("search packages", err)
		}
		defer rows.Close()
		for rows.Next() {
			var idB64, repoURL string
			if err := rows.Scan(&idB64, &repoURL); err != nil {
				return nil, indexerr.Backend("scan packages search row", err)
			}
			id, err := model.DecodeIdentifierBase64(idB64)
			if err != nil {
				continue
			}
			col, ok := byKey[id.DatabaseKey()]
			if !ok {
				continue
			}
			identity := model.PackageReference{URL: repoURL}.Identity()
			if pkg, found := findPackageInCollection(col, identity); found {
				items.add(identity, pkg, id)
			}
		}
		if err := rows.Err(); err != nil {
			return nil, indexerr.Backend("iterate packages search rows", err)
		}
		return items.list(), nil
	}

	lowerQuery := strings.ToLower(query)
	for _, col := range candidates {
		for _, pkg := range col.Packages {
			if packageMatchesSubstring(pkg, lowerQuery) {
				items.add(pkg.Reference.Identity(), pkg, col.Identifier)
			}
		}
	}
	return items.list(), nil
}

func packageMatchesSubstring(pkg model.Package, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(pkg.Reference.URL), lowerQuery) {
		return true
	}
	if pkg.Summary != nil && strings.Contains(strings.ToLower(*pkg.Summary), lowerQuery) {
		return true
	}
	for _, kw := range pkg.Keywords {
		if strings.Contains(strings.ToLower(kw), lowerQuery) {
			return true
		}
	}
	for _, ver := range pkg.Versions {
		if strings.Contains(strings.ToLower(ver.PackageName), lowerQuery) {
			return true
		}
		for _, p := range ver.Products {
			if strings.Contains(strings.ToLower(p.Name), lowerQuery) {
				return true
			}
		}
		for _, t := range ver.Targets {
			if strings.Contains(strings.ToLower(t.Name), lowerQuery) {
				return true
			}
		}
	}
	return false
}

func findPackageInCollection(col *model.Collection, identity model.PackageIdentity) (model.Package, bool) {
	for _, pkg := range col.Packages {
		if pkg.Reference.Identity() == identity {
			return pkg, true
		}
	}
	return model.Package{}, false
}

func collectionsByKey(collections []*model.Collection) map[string]*model.Collection {
	out := make(map[string]*model.Collection, len(collections))
	for _, col := range collections {
		out[col.Identifier.DatabaseKey()] = col
	}
	return out
}

// packageItemSet accumulates PackageSearchItem/PackageLookupItem results
// keyed by package identity, preserving first-seen order.
type packageItemSet struct {
	order []model.PackageIdentity
	items map[model.PackageIdentity]*PackageSearchItem
}

func newPackageItemSet() *packageItemSet {
	return &packageItemSet{items: make(map[model.PackageIdentity]*PackageSearchItem)}
}

func (s *packageItemSet) add(identity model.PackageIdentity, pkg model.Package, id model.CollectionIdentifier) {
	item, ok := s.items[identity]
	if !ok {
		item = &PackageSearchItem{Package: pkg}
		s.items[identity] = item
		s.order = append(s.order, identity)
	}
	for _, existing := range item.Collections {
		if existing == id {
			return
		}
	}
	item.Collections = append(item.Collections, id)
}

func (s *packageItemSet) list() []PackageSearchItem {
	out := make([]PackageSearchItem, 0, len(s.order))
	for _, identity := range s.order {
		out = append(out, *s.items[identity])
	}
	return out
}

// FindPackage implements §4.F findPackage: locate every candidate
// collection containing identity, order them by lastProcessedAt
// descending, and return the package value from the newest one.
func (q *QueryEngine) FindPackage(db *sql.DB, cache *collcache.Cache, diag Diagnostics, useSearchIndices bool, identity model.PackageIdentity, ids []model.CollectionIdentifier) (PackageLookupItem, error) {
	candidates, err := q.List(db, cache, diag, ids)
	if err != nil {
		return PackageLookupItem{}, err
	}
	byKey := collectionsByKey(candidates)

	var matches []*model.Collection

	if useSearchIndices {
		rows, err := db.Query(`SELECT collection_id_blob_base64, repository_url FROM fts_packages WHERE id = ?`, string(identity))
		if err != nil {
			return PackageLookupItem{}, indexerr.Backend("find package", err)
		}
		defer rows.Close()
		seen := make(map[string]struct{})
		for rows.Next() {
			var idB64, repoURL string
			if err := rows.Scan(&idB64, &repoURL); err != nil {
				return PackageLookupItem{}, indexerr.Backend("scan find package row", err)
			}
			id, err := model.DecodeIdentifierBase64(idB64)
			if err != nil {
				continue
			}
			if _, dup := seen[id.DatabaseKey()]; dup {
				continue
			}
			if col, ok := byKey[id.DatabaseKey()]; ok {
				seen[id.DatabaseKey()] = struct{}{}
				matches = append(matches, col)
			}
		}
		if err := rows.Err(); err != nil {
			return PackageLookupItem{}, indexerr.Backend("iterate find package rows", err)
		}
	} else {
		for _, col := range candidates {
			if _, found := findPackageInCollection(col, identity); found {
				matches = append(matches, col)
			}
		}
	}

	if len(matches) == 0 {
		return PackageLookupItem{}, indexerr.NotFoundf("package %q", identity)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].LastProcessedAt.After(matches[j].LastProcessedAt)
	})

	pkg, _ := findPackageInCollection(matches[0], identity)
	ids2 := make([]model.CollectionIdentifier, 0, len(matches))
	for _, col := range matches {
		ids2 = append(ids2, col.Identifier)
	}
	return PackageLookupItem{Package: pkg, Collections: ids2}, nil
}

// targetMatch is the normalized unit produced by all three searchTargets
// paths before grouping into TargetSearchItem values.
type targetMatch struct {
	word       string
	collection model.CollectionIdentifier
	identity   model.PackageIdentity
}

// SearchTargets implements §4.F searchTargets across its three paths:
// trie-accelerated, FTS, and fallback scan.
func (q *QueryEngine) SearchTargets(db *sql.DB, cache *collcache.Cache, diag Diagnostics, useSearchIndices bool, tr *targetTrie, trieReady bool, ids []model.CollectionIdentifier, query string, matchType MatchType) ([]TargetSearchItem, error) {
	query = strings.ToLower(query)
	candidates, err := q.List(db, cache, diag, ids)
	if err != nil {
		return nil, err
	}
	byKey := collectionsByKey(candidates)

	var matches []targetMatch

	switch {
	case useSearchIndices && trieReady:
		matches = matchesFromTrie(tr, query, matchType)
	case useSearchIndices:
		matches, err = matchesFromFTS(db, query, matchType)
		if err != nil {
			return nil, err
		}
	default:
		matches = matchesFromScan(candidates, query, matchType)
	}

	return buildTargetSearchItems(byKey, matches), nil
}

func matchesFromTrie(tr *targetTrie, query string, matchType MatchType) []targetMatch {
	var out []targetMatch
	if matchType == ExactMatch {
		values, err := tr.Find(query)
		if err != nil {
			return nil
		}
		for _, v := range values {
			out = append(out, targetMatch{word: query, collection: v.Collection, identity: v.Package})
		}
		return out
	}

	results, err := tr.FindWithPrefix(query)
	if err != nil {
		return nil
	}
	for word, values := range results {
		for _, v := range values {
			out = append(out, targetMatch{word: word, collection: v.Collection, identity: v.Package})
		}
	}
	return out
}

func matchesFromFTS(db *sql.DB, query string, matchType MatchType) ([]targetMatch, error) {
	bound := query
	if matchType == Prefix {
		bound = query + "%"
	}

	rows, err := db.Query(`SELECT collection_id_blob_base64, package_repository_url, name FROM fts_targets WHERE name LIKE ?`, bound)
	if err != nil {
		return nil, indexerr.Backend("search targets", err)
	}
	defer rows.Close()

	var out []targetMatch
	for rows.Next() {
		var idB64, repoURL, name string
		if err := rows.Scan(&idB64, &repoURL, &name); err != nil {
			return nil, indexerr.Backend("scan targets search row", err)
		}
		id, err := model.DecodeIdentifierBase64(idB64)
		if err != nil {
			continue
		}
		identity := model.PackageReference{URL: repoURL}.Identity()
		out = append(out, targetMatch{word: strings.ToLower(name), collection: id, identity: identity})
	}
	if err := rows.Err(); err != nil {
		return nil, indexerr.Backend("iterate targets search rows", err)
	}
	return out, nil
}

func matchesFromScan(candidates []*model.Collection, query string, matchType MatchType) []targetMatch {
	var out []targetMatch
	for _, col := range candidates {
		for _, pkg := range col.Packages {
			for _, ver := range pkg.Versions {
				for _, t := range ver.Targets {
					lower := strings.ToLower(t.Name)
					matched := false
					switch matchType {
					case ExactMatch:
						matched = lower == query
					case Prefix:
						matched = strings.HasPrefix(lower, query)
					}
					if matched {
						out = append(out, targetMatch{word: lower, collection: col.Identifier, identity: pkg.Reference.Identity()})
					}
				}
			}
		}
	}
	return out
}

func buildTargetSearchItems(byKey map[string]*model.Collection, matches []targetMatch) []TargetSearchItem {
	type packageKey struct {
		word     string
		identity model.PackageIdentity
	}

	wordOrder := make([]string, 0)
	wordSeen := make(map[string]struct{})
	pkgOrder := make(map[string][]model.PackageIdentity)
	pkgSeen := make(map[packageKey]struct{})
	collectionsByPkg := make(map[packageKey][]model.CollectionIdentifier)
	exemplarCollection := make(map[packageKey]*model.Collection)

	for _, m := range matches {
		if _, ok := wordSeen[m.word]; !ok {
			wordSeen[m.word] = struct{}{}
			wordOrder = append(wordOrder, m.word)
		}
		pk := packageKey{word: m.word, identity: m.identity}
		if _, ok := pkgSeen[pk]; !ok {
			pkgSeen[pk] = struct{}{}
			pkgOrder[m.word] = append(pkgOrder[m.word], m.identity)
		}
		col, ok := byKey[m.collection.DatabaseKey()]
		if !ok {
			continue
		}
		if exemplarCollection[pk] == nil {
			exemplarCollection[pk] = col
		}
		found := false
		for _, existing := range collectionsByPkg[pk] {
			if existing == m.collection {
				found = true
				break
			}
		}
		if !found {
			collectionsByPkg[pk] = append(collectionsByPkg[pk], m.collection)
		}
	}

	out := make([]TargetSearchItem, 0, len(wordOrder))
	for _, word := range wordOrder {
		item := TargetSearchItem{Target: word}
		for _, identity := range pkgOrder[word] {
			pk := packageKey{word: word, identity: identity}
			col := exemplarCollection[pk]
			if col == nil {
				continue
			}
			pkg, found := findPackageInCollection(col, identity)
			if !found {
				continue
			}
			versions := versionsWithTarget(pkg, word)
			sort.Slice(versions, func(i, j int) bool {
				return model.CompareSemVer(versions[i].Version, versions[j].Version) > 0
			})
			item.Packages = append(item.Packages, TargetPackageMatch{
				Reference:   pkg.Reference,
				Summary:     pkg.Summary,
				Versions:    versions,
				Collections: collectionsByPkg[pk],
			})
		}
		out = append(out, item)
	}
	return out
}

func versionsWithTarget(pkg model.Package, lowerWord string) []model.Version {
	var out []model.Version
	for _, ver := range pkg.Versions {
		for _, t := range ver.Targets {
			if strings.ToLower(t.Name) == lowerWord {
				out = append(out, ver)
				break
			}
		}
	}
	return out
}

// WarmupTrieFromFTS populates tr from every targets-FTS row, lower-casing
// each target name. shouldAbort is polled between rows so Lifecycle's
// isShuttingDown flag can cut the scan short (§4.G); a true return stops
// the scan and reports completed=false.
func (q *QueryEngine) WarmupTrieFromFTS(db *sql.DB, tr *targetTrie, shouldAbort func() bool) (completed bool, err error) {
	rows, err := db.Query(`SELECT collection_id_blob_base64, package_repository_url, name FROM fts_targets`)
	if err != nil {
		return false, indexerr.Backend("warm up trie", err)
	}
	defer rows.Close()

	for rows.Next() {
		if shouldAbort() {
			return false, nil
		}

		var idB64, repoURL, name string
		if err := rows.Scan(&idB64, &repoURL, &name); err != nil {
			return false, indexerr.Backend("scan warm-up row", err)
		}
		id, err := model.DecodeIdentifierBase64(idB64)
		if err != nil {
			continue
		}
		identity := model.PackageReference{URL: repoURL}.Identity()
		tr.Insert(strings.ToLower(name), TrieValue{Collection: id, Package: identity})
	}
	if err := rows.Err(); err != nil {
		return false, indexerr.Backend("iterate warm-up rows", err)
	}
	return true, nil
}
