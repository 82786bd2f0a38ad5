package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Encode produces the canonical JSON encoding of a Collection: struct field
// order is fixed by the struct definitions in model.go, HTML escaping is disabled, and
// time.Time fields use their default RFC3339Nano encoding via
// encoding/json. Every caller that writes a collection's bytes to the
// primary table MUST go through this function, and every reader MUST go
// through Decode — §3 invariant 4 depends on both sides sharing one
// encoder/decoder.
func Encode(col *Collection) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(col); err != nil {
		return nil, fmt.Errorf("encode collection: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode reverses Encode.
func Decode(blob []byte) (*Collection, error) {
	var col Collection
	if err := json.Unmarshal(blob, &col); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	return &col, nil
}

// EncodeIdentifierBase64 returns the standard (non-URL-safe) base64 of the
// JSON encoding of a CollectionIdentifier — the value stored as
// collection_id_blob_base64 in both FTS tables.
func EncodeIdentifierBase64(id CollectionIdentifier) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(id); err != nil {
		return "", fmt.Errorf("encode collection identifier: %w", err)
	}
	raw := bytes.TrimRight(buf.Bytes(), "\n")
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeIdentifierBase64 reverses EncodeIdentifierBase64.
func DecodeIdentifierBase64(encoded string) (CollectionIdentifier, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return CollectionIdentifier{}, fmt.Errorf("decode base64 identifier: %w", err)
	}
	var id CollectionIdentifier
	if err := json.Unmarshal(raw, &id); err != nil {
		return CollectionIdentifier{}, fmt.Errorf("decode collection identifier: %w", err)
	}
	return id, nil
}

// CompareSemVer compares two semver-ish version strings (major.minor.patch,
// with an optional -prerelease suffix compared lexically). Returns a
// negative number if a < b, zero if equal, positive if a > b. Malformed
// segments compare as 0 rather than erroring, since target-search result
// ordering is best-effort display sorting, not a correctness-critical
// comparison.
func CompareSemVer(a, b string) int {
	aCore, aPre := splitPrerelease(a)
	bCore, bPre := splitPrerelease(b)

	aParts := coreParts(aCore)
	bParts := coreParts(bCore)

	for i := 0; i < 3; i++ {
		if d := aParts[i] - bParts[i]; d != 0 {
			return d
		}
	}

	switch {
	case aPre == "" && bPre == "":
		return 0
	case aPre == "":
		return 1 // no prerelease outranks any prerelease
	case bPre == "":
		return -1
	default:
		return strings.Compare(aPre, bPre)
	}
}

func splitPrerelease(v string) (core, pre string) {
	if i := strings.IndexByte(v, '-'); i >= 0 {
		return v[:i], v[i+1:]
	}
	return v, ""
}

func coreParts(core string) [3]int {
	var parts [3]int
	segments := strings.SplitN(core, ".", 3)
	for i := 0; i < len(segments) && i < 3; i++ {
		n, err := strconv.Atoi(segments[i])
		if err != nil {
			continue
		}
		parts[i] = n
	}
	return parts
}
