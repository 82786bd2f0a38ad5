package store

import (
	"database/sql"
	"fmt"
)

// Bit-exact per the external interface contract: table names, column
// names, and FTS4 tokenizer configuration must match exactly for the
// encoding boundary to round-trip.
const createPrimaryTable = `
CREATE TABLE IF NOT EXISTS package_collections(
    key   TEXT PRIMARY KEY NOT NULL,
    value BLOB NOT NULL)
`

const createPackagesFTSTable = `
CREATE VIRTUAL TABLE IF NOT EXISTS fts_packages USING fts4(
    collection_id_blob_base64, id, version, name, repository_url,
    summary, keywords, products, targets,
    notindexed=collection_id_blob_base64, tokenize=unicode61)
`

const createTargetsFTSTable = `
CREATE VIRTUAL TABLE IF NOT EXISTS fts_targets USING fts4(
    collection_id_blob_base64, package_repository_url, name,
    notindexed=collection_id_blob_base64, tokenize=unicode61)
`

const createMetadataTable = `
CREATE TABLE IF NOT EXISTS cache_metadata(
    key   TEXT PRIMARY KEY NOT NULL,
    value TEXT NOT NULL)
`

const schemaVersion = "1"

// bootstrapSchema creates the primary table unconditionally, then attempts
// to create both FTS4 virtual tables. FTS creation failure is not fatal —
// the caller demotes to fallback-scan mode by inspecting the returned
// bool. Per §4.D, we never fall back to an older FTS version; either FTS4
// succeeds or search indices are disabled entirely.
func bootstrapSchema(db *sql.DB) (useSearchIndices bool, err error) {
	if _, err := db.Exec(createPrimaryTable); err != nil {
		return false, fmt.Errorf("create primary table: %w", err)
	}
	if _, err := db.Exec(createMetadataTable); err != nil {
		return false, fmt.Errorf("create metadata table: %w", err)
	}
	if err := bootstrapMetadata(db); err != nil {
		return false, fmt.Errorf("bootstrap metadata: %w", err)
	}

	if _, err := db.Exec(createPackagesFTSTable); err != nil {
		return false, nil
	}
	if _, err := db.Exec(createTargetsFTSTable); err != nil {
		return false, nil
	}
	return true, nil
}

func bootstrapMetadata(db *sql.DB) error {
	_, err := db.Exec(
		`INSERT INTO cache_metadata (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO NOTHING`,
		schemaVersion,
	)
	return err
}

func setWALMode(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL journal mode: %w", err)
	}
	return nil
}
