package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/package-collection-index/internal/trie"
)

// Test Plan for Lifecycle:
// - Connection opens the handle lazily and reports useSearchIndices
// - Close transitions to Disconnected and is safe to call twice
// - IsShuttingDown flips true as soon as Close begins
// - WarmupTrie runs its work exactly once even if called twice

func TestLifecycleConnection(t *testing.T) {
	t.Parallel()

	lc := NewLifecycle(NewGateway(Temporary(), NewOSFileSystem()))
	defer lc.Close()

	db, useSearchIndices, err := lc.Connection()
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.True(t, useSearchIndices)
	assert.Equal(t, stateConnected, lc.state)
}

func TestLifecycleClose(t *testing.T) {
	t.Parallel()

	lc := NewLifecycle(NewGateway(Temporary(), NewOSFileSystem()))
	_, _, err := lc.Connection()
	require.NoError(t, err)

	require.NoError(t, lc.Close())
	assert.Equal(t, stateDisconnected, lc.state)
	assert.True(t, lc.IsShuttingDown())

	require.NoError(t, lc.Close())
}

func TestLifecycleWarmupTrieRunsOnce(t *testing.T) {
	t.Parallel()

	lc := NewLifecycle(NewGateway(Temporary(), NewOSFileSystem()))
	defer lc.Close()

	db, _, err := lc.Connection()
	require.NoError(t, err)

	q := NewQueryEngine()
	tr := trie.New[TrieValue]()

	lc.WarmupTrie(q, tr, db)
	assert.True(t, lc.TrieReady())

	lc.trieReady.Store(false)
	lc.WarmupTrie(q, tr, db)
	assert.False(t, lc.TrieReady(), "second call must be a no-op: sync.Once already fired")
}
