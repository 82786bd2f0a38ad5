// Package model defines the package-collection data model: the shape
// persisted by the store and returned from its query surface. These are
// plain data structs, not ORM models — the store owns mapping them to and
// from SQL rows and JSON blobs.
package model

import (
	"strings"
	"time"
)

// SourceType enumerates the supported collection source kinds. Only
// SourceTypeJSON exists today; the field is still modeled as an enum
// because the encoding boundary (§6) requires a discriminator.
type SourceType string

const SourceTypeJSON SourceType = "json"

// CollectionSource describes where a collection's data came from.
type CollectionSource struct {
	Type SourceType `json:"type"`
	URL  string     `json:"url"`
}

// CollectionIdentifier is a tagged variant. "json" is the only case
// present today; the discriminator field is kept explicit in the JSON
// encoding so the format can grow new cases without breaking old data.
type CollectionIdentifier struct {
	Case string `json:"_case"`
	URL  string `json:"url"`
}

// JSONIdentifier builds the (only) supported identifier variant from a
// collection source URL.
func JSONIdentifier(url string) CollectionIdentifier {
	return CollectionIdentifier{Case: "json", URL: CanonicalURL(url)}
}

// DatabaseKey is the primary-table key derived from this identifier: the
// URL in canonical string form.
func (id CollectionIdentifier) DatabaseKey() string {
	return CanonicalURL(id.URL)
}

func (id CollectionIdentifier) String() string {
	return id.DatabaseKey()
}

// PackageIdentity is a package's identity, derived from its repository URL.
type PackageIdentity string

// PackageReference is the package's canonical locator.
type PackageReference struct {
	URL string `json:"url"`
}

// Identity derives this reference's PackageIdentity.
func (r PackageReference) Identity() PackageIdentity {
	return PackageIdentity(CanonicalURL(r.URL))
}

// Platform names a verified deployment platform and optional minimum version.
type Platform struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Target is a named compilation unit inside a package version.
type Target struct {
	Name       string `json:"name"`
	ModuleName string `json:"moduleName,omitempty"`
}

// Product groups targets under a name and a product type (library,
// executable, plugin, ...).
type Product struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	TargetNames []string `json:"targetNames"`
}

// Version is one released state of a package.
type Version struct {
	Version               string     `json:"version"`
	PackageName           string     `json:"packageName"`
	ToolsVersion          string     `json:"toolsVersion"`
	VerifiedPlatforms     []Platform `json:"verifiedPlatforms,omitempty"`
	VerifiedSwiftVersions []string   `json:"verifiedSwiftVersions,omitempty"`
	License               *string    `json:"license,omitempty"`
	Targets               []Target   `json:"targets"`
	Products              []Product  `json:"products"`
}

// Package is metadata for one source repository, inside a Collection.
type Package struct {
	Reference PackageReference `json:"reference"`
	Summary   *string          `json:"summary,omitempty"`
	ReadmeURL *string          `json:"readmeURL,omitempty"`
	Keywords  []string         `json:"keywords,omitempty"`
	Versions  []Version        `json:"versions"`
}

// Collection is the unit of persistence: a bundle of package metadata
// identified by a URL-bearing identifier.
type Collection struct {
	Identifier      CollectionIdentifier `json:"identifier"`
	Source          CollectionSource     `json:"source"`
	Name            string               `json:"name"`
	Description     *string              `json:"description,omitempty"`
	Keywords        []string             `json:"keywords,omitempty"`
	Packages        []Package            `json:"packages"`
	CreatedAt       time.Time            `json:"createdAt"`
	LastProcessedAt time.Time            `json:"lastProcessedAt"`
}

// CanonicalURL normalizes a URL string into the canonical form used as a
// database key and as package identity. Kept deliberately conservative:
// lower-cases scheme and host, drops a bare "/" root path, leaves any
// other path/query untouched (a trailing slash after a non-empty path is
// kept). A string without "://" only has a single trailing slash trimmed. This must be the ONLY normalization path used by
// both writers and readers, or lookups silently stop matching (§3 invariant 4).
func CanonicalURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	schemeSep := strings.Index(trimmed, "://")
	if schemeSep < 0 {
		return strings.TrimSuffix(trimmed, "/")
	}

	scheme := strings.ToLower(trimmed[:schemeSep])
	rest := trimmed[schemeSep+3:]

	hostEnd := strings.IndexAny(rest, "/?#")
	var host, tail string
	if hostEnd < 0 {
		host, tail = rest, ""
	} else {
		host, tail = rest[:hostEnd], rest[hostEnd:]
	}

	canonical := scheme + "://" + strings.ToLower(host) + tail
	if tail == "" || tail == "/" {
		return strings.TrimSuffix(canonical, "/")
	}
	return canonical
}
