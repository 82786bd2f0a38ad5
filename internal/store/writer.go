package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/mvp-joe/package-collection-index/internal/collcache"
	"github.com/mvp-joe/package-collection-index/internal/indexerr"
	"github.com/mvp-joe/package-collection-index/internal/model"
)

// Writer is the Index Writer (§4.E). ftsLock serializes the transactional
// FTS update inside Put against any other Put/Remove, matching §5's
// requirement that the single SQL connection admits only one transaction
// at a time.
type Writer struct {
	ftsLock sync.Mutex
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Put encodes col, replaces its primary-table row, and — if useSearchIndices
// is set — replaces its FTS rows and trie entries. The trie mutation runs
// inside the same ftsLock critical section as the FTS transaction (only
// after that transaction commits), so two concurrent Put/Remove calls for
// the same id can never commit their FTS rows in one order and their trie
// entries in the other — the lock is what makes "last writer wins"
// consistent across both structures (§5).
func (w *Writer) Put(db *sql.DB, tr *targetTrie, cache *collcache.Cache, useSearchIndices bool, col *model.Collection) error {
	blob, err := model.Encode(col)
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}

	key := col.Identifier.DatabaseKey()
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO package_collections (key, value) VALUES (?, ?)`,
		key, blob,
	); err != nil {
		return indexerr.Backend("put primary row", err)
	}

	if useSearchIndices {
		idB64, err := model.EncodeIdentifierBase64(col.Identifier)
		if err != nil {
			return fmt.Errorf("encode identifier: %w", err)
		}

		w.ftsLock.Lock()
		err = w.replaceFTSRows(db, idB64, col)
		if err == nil {
			tr.Remove(func(v TrieValue) bool { return v.Collection == col.Identifier })
			insertTrieEntries(tr, col)
		}
		w.ftsLock.Unlock()
		if err != nil {
			return err
		}
	}

	cache.Put(col)
	return nil
}

// Remove deletes the primary row, then (if enabled) every FTS row and
// trie entry referencing id, then evicts the cache. A missing id is not
// an error (§4.E).
func (w *Writer) Remove(db *sql.DB, tr *targetTrie, cache *collcache.Cache, useSearchIndices bool, id model.CollectionIdentifier) error {
	key := id.DatabaseKey()
	if _, err := db.Exec(`DELETE FROM package_collections WHERE key = ?`, key); err != nil {
		return indexerr.Backend("remove primary row", err)
	}

	if useSearchIndices {
		idB64, err := model.EncodeIdentifierBase64(id)
		if err != nil {
			return fmt.Errorf("encode identifier: %w", err)
		}

		w.ftsLock.Lock()
		err = deleteFTSRows(db, idB64)
		if err == nil {
			tr.Remove(func(v TrieValue) bool { return v.Collection == id })
		}
		w.ftsLock.Unlock()
		if err != nil {
			return err
		}
	}

	cache.Delete(id)
	return nil
}

func deleteFTSRows(db *sql.DB, idB64 string) error {
	tx, err := db.Begin()
	if err != nil {
		return indexerr.Backend("begin FTS delete transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM fts_packages WHERE collection_id_blob_base64 = ?`, idB64); err != nil {
		return indexerr.Backend("delete fts_packages rows", err)
	}
	if _, err := tx.Exec(`DELETE FROM fts_targets WHERE collection_id_blob_base64 = ?`, idB64); err != nil {
		return indexerr.Backend("delete fts_targets rows", err)
	}
	if err := tx.Commit(); err != nil {
		return indexerr.Backend("commit FTS delete transaction", err)
	}
	return nil
}

func (w *Writer) replaceFTSRows(db *sql.DB, idB64 string, col *model.Collection) error {
	tx, err := db.Begin()
	if err != nil {
		return indexerr.Backend("begin FTS transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM fts_packages WHERE collection_id_blob_base64 = ?`, idB64); err != nil {
		return indexerr.Backend("delete fts_packages rows", err)
	}
	if _, err := tx.Exec(`DELETE FROM fts_targets WHERE collection_id_blob_base64 = ?`, idB64); err != nil {
		return indexerr.Backend("delete fts_targets rows", err)
	}

	packagesStmt, err := tx.Prepare(
		`INSERT INTO fts_packages
		 (collection_id_blob_base64, id, version, name, repository_url, summary, keywords, products, targets)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return indexerr.Backend("prepare fts_packages insert", err)
	}
	defer packagesStmt.Close()

	targetsStmt, err := tx.Prepare(
		`INSERT INTO fts_targets (collection_id_blob_base64, package_repository_url, name) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return indexerr.Backend("prepare fts_targets insert", err)
	}
	defer targetsStmt.Close()

	for _, pkg := range col.Packages {
		targetNames := unionTargetNames(pkg)
		summary := ""
		if pkg.Summary != nil {
			summary = *pkg.Summary
		}
		keywords := strings.Join(pkg.Keywords, " ")
		products := strings.Join(unionProductNames(pkg), " ")
		targetsJoined := strings.Join(targetNames, " ")

		for _, ver := range pkg.Versions {
			if _, err := packagesStmt.Exec(
				idB64,
				string(pkg.Reference.Identity()),
				ver.Version,
				ver.PackageName,
				pkg.Reference.URL,
				summary,
				keywords,
				products,
				targetsJoined,
			); err != nil {
				return indexerr.Backend("insert fts_packages row", err)
			}
		}

		for _, name := range targetNames {
			if _, err := targetsStmt.Exec(idB64, pkg.Reference.URL, name); err != nil {
				return indexerr.Backend("insert fts_targets row", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return indexerr.Backend("commit FTS transaction", err)
	}
	return nil
}

func insertTrieEntries(tr *targetTrie, col *model.Collection) {
	for _, pkg := range col.Packages {
		value := TrieValue{Collection: col.Identifier, Package: pkg.Reference.Identity()}
		for _, name := range unionTargetNames(pkg) {
			tr.Insert(strings.ToLower(name), value)
		}
	}
}

func unionTargetNames(pkg model.Package) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, ver := range pkg.Versions {
		for _, t := range ver.Targets {
			if _, ok := seen[t.Name]; ok {
				continue
			}
			seen[t.Name] = struct{}{}
			names = append(names, t.Name)
		}
	}
	return names
}

func unionProductNames(pkg model.Package) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, ver := range pkg.Versions {
		for _, p := range ver.Products {
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			names = append(names, p.Name)
		}
	}
	return names
}
