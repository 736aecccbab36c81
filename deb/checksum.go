package deb

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
)

// ErrUnknownAlgorithm is returned for digest names the pipeline cannot compute.
var ErrUnknownAlgorithm = errors.New("unknown checksum algorithm")

var checksumAlgorithms = map[string]func() hash.Hash{
	"MD5":    md5.New,
	"SHA1":   sha1.New,
	"SHA256": sha256.New,
	"SHA512": sha512.New,
}

func canonicalAlgorithm(name string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(name)), "-", "")
}

// ChecksumWriter forwards every byte to the wrapped writer and feeds it to
// N digests at once. A nil destination only hashes.
type ChecksumWriter struct {
	w      io.Writer
	names  []string
	hashes []hash.Hash
	n      int64
}

// NewChecksumWriter returns a writer computing the named digests over
// everything written to w.
func NewChecksumWriter(w io.Writer, algorithms ...string) (*ChecksumWriter, error) {
	cw := &ChecksumWriter{w: w}
	for _, a := range algorithms {
		name := canonicalAlgorithm(a)
		newHash, ok := checksumAlgorithms[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, a)
		}
		cw.names = append(cw.names, name)
		cw.hashes = append(cw.hashes, newHash())
	}
	return cw, nil
}

// mustChecksumWriter is NewChecksumWriter for fixed algorithm lists. It
// panics on an unknown name.
func mustChecksumWriter(w io.Writer, algorithms ...string) *ChecksumWriter {
	cw, err := NewChecksumWriter(w, algorithms...)
	if err != nil {
		panic(err)
	}
	return cw
}

func (cw *ChecksumWriter) Write(p []byte) (int, error) {
	n := len(p)
	if cw.w != nil {
		var err error
		n, err = cw.w.Write(p)
		if err != nil {
			cw.update(p[:n])
			return n, err
		}
	}
	cw.update(p[:n])
	return n, nil
}

func (cw *ChecksumWriter) update(p []byte) {
	for _, h := range cw.hashes {
		h.Write(p)
	}
	cw.n += int64(len(p))
}

// Size is the number of bytes seen so far.
func (cw *ChecksumWriter) Size() int64 {
	return cw.n
}

// Sum returns the hex digest of the i-th algorithm.
func (cw *ChecksumWriter) Sum(i int) string {
	return hex.EncodeToString(cw.hashes[i].Sum(nil))
}

// SumOf returns the hex digest for the named algorithm, or "" if it is not computed.
func (cw *ChecksumWriter) SumOf(algorithm string) string {
	name := canonicalAlgorithm(algorithm)
	for i, n := range cw.names {
		if n == name {
			return cw.Sum(i)
		}
	}
	return ""
}

// Reset clears the digests and the byte count, keeping the destination.
func (cw *ChecksumWriter) Reset() {
	for _, h := range cw.hashes {
		h.Reset()
	}
	cw.n = 0
}

// ChecksumEntry is one line of a checksum manifest.
type ChecksumEntry struct {
	Digest string
	Size   int64
	Path   string
}

// ChecksumManifest keeps digests in emission order.
type ChecksumManifest struct {
	Entries []ChecksumEntry
}

// Add appends an entry.
func (m *ChecksumManifest) Add(digest string, size int64, path string) {
	m.Entries = append(m.Entries, ChecksumEntry{Digest: digest, Size: size, Path: path})
}

// Len returns the number of entries.
func (m *ChecksumManifest) Len() int {
	return len(m.Entries)
}

// String renders the manifest in md5sum(1) format: digest, two spaces, path.
func (m *ChecksumManifest) String() string {
	var b strings.Builder
	for _, e := range m.Entries {
		fmt.Fprintf(&b, "%s  %s\n", e.Digest, e.Path)
	}
	return b.String()
}
