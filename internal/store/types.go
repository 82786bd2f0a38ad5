package store

import (
	"github.com/mvp-joe/package-collection-index/internal/model"
	"github.com/mvp-joe/package-collection-index/internal/trie"
)

// TrieValue is the value stored at each trie word: the pair identifying
// which collection and package carries a given target name.
type TrieValue struct {
	Collection model.CollectionIdentifier
	Package    model.PackageIdentity
}

// targetTrie is the concrete trie type this store uses.
type targetTrie = trie.Trie[TrieValue]

// MatchType selects exact or prefix semantics for searchTargets (§4.F).
type MatchType int

const (
	ExactMatch MatchType = iota
	Prefix
)

// PackageSearchItem is one result of searchPackages: a package plus the
// collections in which it was found.
type PackageSearchItem struct {
	Package     model.Package
	Collections []model.CollectionIdentifier
}

// PackageLookupItem is the result of findPackage.
type PackageLookupItem struct {
	Package     model.Package
	Collections []model.CollectionIdentifier
}

// TargetPackageMatch is one package matched by searchTargets, scoped to
// the collections that carry it and sorted per §4.F ("versions is sorted
// descending by semver").
type TargetPackageMatch struct {
	Reference   model.PackageReference
	Summary     *string
	Versions    []model.Version
	Collections []model.CollectionIdentifier
}

// TargetSearchItem is one result of searchTargets: a target name plus the
// packages that declare it.
type TargetSearchItem struct {
	Target   string
	Packages []TargetPackageMatch
}

// Stats is the supplemental read-only introspection surface (§ supplement 2).
type Stats struct {
	PrimaryRowCount int
	PackagesFTSRows int
	TargetsFTSRows  int
	TrieWordCount   int
	UseSearchIndices bool
	TrieReady        bool
}
