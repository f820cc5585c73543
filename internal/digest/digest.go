// Package digest computes content identities for files.
//
// A digest is the lowercase hex encoding of a cryptographic hash over the
// full byte content of a file. Files are streamed in fixed-size chunks so
// memory use is bounded regardless of file size.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// ChunkSize is the read buffer used when streaming file content.
const ChunkSize = 1 << 20

// Supported algorithm names.
const (
	MD5    = "md5"
	SHA1   = "sha1"
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// DefaultAlgorithm matches the digest format of existing metafs databases.
const DefaultAlgorithm = MD5

var constructors = map[string]func() hash.Hash{
	MD5:    md5.New,
	SHA1:   sha1.New,
	SHA256: sha256.New,
	BLAKE3: func() hash.Hash { return blake3.New() },
}

// Algorithms returns the supported algorithm names in sorted order.
func Algorithms() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Infer returns the algorithm whose hex digests have the length of
// hexDigest. It reports false when none or several match: sha256 and
// blake3 digests cannot be told apart.
func Infer(hexDigest string) (string, bool) {
	var found string
	for name, ctor := range constructors {
		if ctor().Size()*2 != len(hexDigest) {
			continue
		}
		if found != "" {
			return "", false
		}
		found = name
	}
	return found, found != ""
}

// Hasher produces content digests with a fixed algorithm.
//
// A Hasher holds no per-file state and is safe for concurrent use.
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
}

// New returns a Hasher for the named algorithm. An empty name selects
// DefaultAlgorithm.
func New(algorithm string) (*Hasher, error) {
	name := strings.ToLower(strings.TrimSpace(algorithm))
	if name == "" {
		name = DefaultAlgorithm
	}
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unsupported digest algorithm %q: must be one of %v", algorithm, Algorithms())
	}
	return &Hasher{algorithm: name, newHash: ctor}, nil
}

// Algorithm returns the algorithm name.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// File streams the file at path and returns its hex digest.
// Read failures part way through are returned as errors; no partial digest
// is ever produced.
func (h *Hasher) File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	defer f.Close()

	return h.Reader(f)
}

// Reader hashes everything readable from r.
func (h *Hasher) Reader(r io.Reader) (string, error) {
	sum := h.newHash()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(sum, r, buf); err != nil {
		return "", fmt.Errorf("digest: read: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
