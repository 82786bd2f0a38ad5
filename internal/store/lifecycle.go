package store

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mvp-joe/package-collection-index/internal/backoff"
	"github.com/mvp-joe/package-collection-index/internal/indexerr"
)

type lifecycleState int

const (
	stateIdle lifecycleState = iota
	stateConnected
	stateDisconnected
	stateError
)

// Lifecycle is the Idle→Connected→Disconnected state machine of §4.G. It
// owns the gateway and the shutdown/trie-ready flags; Store's public
// methods all route through Connection before touching the database.
type Lifecycle struct {
	gateway *Gateway

	stateLock sync.Mutex
	state     lifecycleState

	shuttingDown atomic.Bool
	trieReady    atomic.Bool
	warmupOnce   sync.Once
	closeOnce    sync.Once
	closeErr     error
}

// NewLifecycle returns a Lifecycle in the Idle state, wrapping gateway.
func NewLifecycle(gateway *Gateway) *Lifecycle {
	return &Lifecycle{gateway: gateway, state: stateIdle}
}

// Connection returns the live handle, opening it if the state is Idle or
// Disconnected. Any operation other than Close reaching this while
// Disconnected transitions back to Connected, per §4.G.
func (l *Lifecycle) Connection() (*sql.DB, bool, error) {
	l.stateLock.Lock()
	defer l.stateLock.Unlock()

	db, useSearchIndices, err := l.gateway.Open()
	if err != nil {
		l.state = stateError
		return nil, false, err
	}
	l.state = stateConnected
	return db, useSearchIndices, nil
}

// IsShuttingDown reports whether Close has begun. Long-running background
// work (trie warm-up) must poll this between iterations and abort.
func (l *Lifecycle) IsShuttingDown() bool {
	return l.shuttingDown.Load()
}

// TrieReady reports whether warm-up has completed successfully at least
// once for this instance's lifetime.
func (l *Lifecycle) TrieReady() bool {
	return l.trieReady.Load()
}

// WarmupTrie runs query's trie warm-up exactly once per instance lifetime
// (memoized via sync.Once, matching the "trie-ready" cell of §4.G and §9).
// Failure or a shutdown-triggered abort leaves trieReady false, silently
// demoting future searches to the FTS path.
func (l *Lifecycle) WarmupTrie(query *QueryEngine, tr *targetTrie, db *sql.DB) {
	l.warmupOnce.Do(func() {
		completed, err := query.WarmupTrieFromFTS(db, tr, l.IsShuttingDown)
		if err == nil && completed {
			l.trieReady.Store(true)
		}
	})
}

// Close attempts to close the held handle while Connected, retrying with
// §4.A's backoff schedule on failure. It always transitions to
// Disconnected on exit and is safe to call multiple times: the second and
// later calls return the first call's result immediately without
// re-attempting the close.
func (l *Lifecycle) Close() error {
	l.closeOnce.Do(func() {
		l.shuttingDown.Store(true)

		l.stateLock.Lock()
		defer l.stateLock.Unlock()

		b := backoff.New()
		err := b.Retry(func() error {
			return l.gateway.Close()
		})
		l.state = stateDisconnected
		if err != nil {
			l.closeErr = fmt.Errorf("%w: %v", indexerr.ErrCloseFailed, err)
		}
	})
	return l.closeErr
}
