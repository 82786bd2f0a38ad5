package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mvp-joe/package-collection-index/internal/indexerr"
)

// FileSystem is the collaborator abstraction §6 requires for path
// existence checks and directory creation, kept narrow and mockable for
// tests rather than calling os directly from the gateway.
type FileSystem interface {
	Exists(path string) bool
	CreateDirectory(path string, recursive bool) error
}

// osFileSystem is the default FileSystem, backed by the os package.
type osFileSystem struct{}

// NewOSFileSystem returns the default filesystem abstraction.
func NewOSFileSystem() FileSystem { return osFileSystem{} }

func (osFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (osFileSystem) CreateDirectory(path string, recursive bool) error {
	if recursive {
		return os.MkdirAll(path, 0o755)
	}
	return os.Mkdir(path, 0o755)
}

// Location is the DB Gateway's sum-typed handle location (§4.D).
type Location struct {
	kind locationKind
	path string
}

type locationKind int

const (
	locationPath locationKind = iota
	locationMemory
	locationTemporary
)

// Path returns a Location backed by a real file at p.
func Path(p string) Location { return Location{kind: locationPath, path: p} }

// Memory returns a Location backed by an in-process SQLite database
// shared across the gateway's lifetime.
func Memory() Location { return Location{kind: locationMemory} }

// Temporary returns a Location backed by a throwaway in-memory database
// private to the gateway's single connection; it is discarded on close.
func Temporary() Location { return Location{kind: locationTemporary} }

func (l Location) dataSourceName() string {
	switch l.kind {
	case locationMemory:
		return "file::memory:?cache=shared"
	case locationTemporary:
		return ":memory:"
	default:
		return l.path
	}
}

// Gateway owns the lazily-opened SQL handle (§4.D). It is not itself
// concurrency-safe for Open/Close races across goroutines beyond the
// guarantees Lifecycle already provides by serializing access with its
// own state lock; Gateway's internal mutex exists only to protect the
// stale-handle reopen check from racing a concurrent Open.
type Gateway struct {
	location Location
	fs       FileSystem

	mu               sync.Mutex
	db               *sql.DB
	useSearchIndices bool
}

// NewGateway constructs a Gateway for location, using fs for directory
// creation and stale-file detection.
func NewGateway(location Location, fs FileSystem) *Gateway {
	return &Gateway{location: location, fs: fs}
}

// Open returns the live handle, opening and bootstrapping it on first
// use, or reopening it if the backing file vanished out-of-band (path
// locations only).
func (g *Gateway) Open() (*sql.DB, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db != nil {
		if g.location.kind == locationPath && !g.fs.Exists(g.location.path) {
			g.db.Close()
			g.db = nil
		} else {
			return g.db, g.useSearchIndices, nil
		}
	}

	if g.location.kind == locationPath {
		dir := filepath.Dir(g.location.path)
		if !g.fs.Exists(dir) {
			if err := g.fs.CreateDirectory(dir, true); err != nil {
				return nil, false, indexerr.Backend("create parent directory", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", g.location.dataSourceName())
	if err != nil {
		return nil, false, indexerr.Backend("open database", err)
	}
	if g.location.kind != locationPath {
		// An in-memory SQLite database is private to the connection that
		// created it; a pool handing out more than one connection would
		// silently fan out to independent, empty databases.
		db.SetMaxOpenConns(1)
	}

	useSearchIndices, err := bootstrapSchema(db)
	if err != nil {
		db.Close()
		return nil, false, fmt.Errorf("bootstrap schema: %w", err)
	}

	if err := setWALMode(db); err != nil {
		db.Close()
		return nil, false, err
	}

	g.db = db
	g.useSearchIndices = useSearchIndices
	return g.db, g.useSearchIndices, nil
}

// Close closes the held handle, if any. Safe to call when no handle is
// open.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db == nil {
		return nil
	}
	err := g.db.Close()
	g.db = nil
	if err != nil {
		return indexerr.Backend("close database", err)
	}
	return nil
}
