// Package keystrategy decides how a blob's store key is derived.
//
// Two strategies exist:
//
//   - Digest keys are the hex content hash. Identical content written for
//     different documents collapses onto a single key (deduplication), and
//     the key stays live while any document references the digest.
//   - DocID keys are the owning document id, optionally suffixed with a
//     version id after a separator ("doc-1@v2"). Keys are never shared, and a
//     key is live only while that exact document version exists.
//
// The strategy is fixed per blob provider.
package keystrategy

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// DefaultVersionSeparator separates a document id from its version id.
const DefaultVersionSeparator = "@"

// Algorithm names a digest algorithm.
type Algorithm string

const (
	MD5    Algorithm = "MD5"
	SHA256 Algorithm = "SHA-256"
)

// ErrUnknownAlgorithm is returned for unsupported digest algorithms.
var ErrUnknownAlgorithm = errors.New("keystrategy: unknown digest algorithm")

// Strategy maps a blob's content and owner to its store key.
type Strategy interface {
	// KeyFor returns the key for a blob. Digest strategies ignore docID and
	// versionID; document strategies ignore digest.
	KeyFor(digest, docID, versionID string) string

	// IsDeduplicated reports whether keys are shared across documents.
	IsDeduplicated() bool

	// IsValidKey reports whether key could have been produced by this
	// strategy.
	IsValidKey(key string) bool

	// Equal reports whether other addresses keys identically.
	Equal(other Strategy) bool

	String() string
}

// Digest is the content-addressed strategy.
type Digest struct {
	Algorithm Algorithm
}

// NewDigest returns a Digest strategy for the named algorithm.
func NewDigest(alg Algorithm) (Digest, error) {
	switch alg {
	case MD5, SHA256:
		return Digest{Algorithm: alg}, nil
	case "SHA256":
		return Digest{Algorithm: SHA256}, nil
	case "":
		return Digest{Algorithm: MD5}, nil
	}
	return Digest{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
}

// Hasher returns a fresh hash for the configured algorithm.
func (d Digest) Hasher() hash.Hash {
	if d.Algorithm == SHA256 {
		return sha256.New()
	}
	return md5.New()
}

// Sum returns the hex digest of data.
func (d Digest) Sum(data []byte) string {
	h := d.Hasher()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (d Digest) hexLen() int {
	return d.Hasher().Size() * 2
}

func (d Digest) KeyFor(digest, _, _ string) string { return digest }

func (d Digest) IsDeduplicated() bool { return true }

// IsValidKey accepts lowercase hex strings of the algorithm's length. Other
// objects found in a deduplicated store were not written through it.
func (d Digest) IsValidKey(key string) bool {
	if len(key) != d.hexLen() {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (d Digest) Equal(other Strategy) bool {
	o, ok := other.(Digest)
	return ok && o.Algorithm == d.Algorithm
}

func (d Digest) String() string { return "digest(" + string(d.Algorithm) + ")" }

// DocID is the document-identity strategy.
type DocID struct {
	Separator string
}

// NewDocID returns a DocID strategy; an empty separator selects
// DefaultVersionSeparator.
func NewDocID(separator string) DocID {
	if separator == "" {
		separator = DefaultVersionSeparator
	}
	return DocID{Separator: separator}
}

func (s DocID) sep() string {
	if s.Separator == "" {
		return DefaultVersionSeparator
	}
	return s.Separator
}

func (s DocID) KeyFor(_, docID, versionID string) string {
	if versionID == "" {
		return docID
	}
	return docID + s.sep() + versionID
}

func (s DocID) IsDeduplicated() bool { return false }

func (s DocID) IsValidKey(key string) bool {
	docID, _ := s.Parse(key)
	return docID != ""
}

// Parse splits a key into document and version ids. The version is empty
// for keys naming a live document.
func (s DocID) Parse(key string) (docID, versionID string) {
	if i := strings.LastIndex(key, s.sep()); i >= 0 {
		return key[:i], key[i+len(s.sep()):]
	}
	return key, ""
}

func (s DocID) Equal(other Strategy) bool {
	o, ok := other.(DocID)
	return ok && o.sep() == s.sep()
}

func (s DocID) String() string { return "docid(" + s.sep() + ")" }

// Parse builds a strategy from its configuration name: "digest" (with an
// optional algorithm) or "docid" (with an optional separator).
func Parse(kind, option string) (Strategy, error) {
	switch strings.ToLower(kind) {
	case "", "digest":
		return NewDigest(Algorithm(strings.ToUpper(option)))
	case "docid":
		return NewDocID(option), nil
	}
	return nil, fmt.Errorf("keystrategy: unknown strategy %q", kind)
}
