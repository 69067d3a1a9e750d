package repo

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// Checksums holds the three digests the repository format publishes for
// every artifact, all computed from one read pass. SHA256 is the strong hash
// used for pool deduplication and fetch verification; MD5 and SHA1 exist for
// client compatibility only.
type Checksums struct {
	Size   int64
	MD5    string
	SHA1   string
	SHA256 string
}

// Digester is an io.Writer that computes all repository checksums
// incrementally, so large artifacts are never held in memory.
type Digester struct {
	md5    hash.Hash
	sha1   hash.Hash
	sha256 hash.Hash
	size   int64
}

func NewDigester() *Digester {
	return &Digester{md5: md5.New(), sha1: sha1.New(), sha256: sha256.New()}
}

func (d *Digester) Write(p []byte) (int, error) {
	d.md5.Write(p)
	d.sha1.Write(p)
	d.sha256.Write(p)
	d.size += int64(len(p))
	return len(p), nil
}

// Sums returns the digests of everything written so far.
func (d *Digester) Sums() Checksums {
	return Checksums{
		Size:   d.size,
		MD5:    hex.EncodeToString(d.md5.Sum(nil)),
		SHA1:   hex.EncodeToString(d.sha1.Sum(nil)),
		SHA256: hex.EncodeToString(d.sha256.Sum(nil)),
	}
}

// DigestReader consumes r and returns its checksums.
func DigestReader(r io.Reader) (Checksums, error) {
	d := NewDigester()
	if _, err := io.Copy(d, r); err != nil {
		return Checksums{}, err
	}
	return d.Sums(), nil
}

// DigestBytes returns the checksums of an in-memory artifact.
func DigestBytes(b []byte) Checksums {
	d := NewDigester()
	d.Write(b)
	return d.Sums()
}

// DigestFile returns the checksums of a file on disk.
func DigestFile(path string) (Checksums, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checksums{}, err
	}
	defer f.Close()
	return DigestReader(f)
}

// VerifyFile checks a file against an expected SHA256. A mismatch is an
// integrity violation attributed to source.
func VerifyFile(path, expectedSHA256, source string) (Checksums, error) {
	sums, err := DigestFile(path)
	if err != nil {
		return Checksums{}, errOf(KindTransient, source, "reading %s: %w", path, err)
	}
	if expectedSHA256 != "" && sums.SHA256 != expectedSHA256 {
		return sums, errOf(KindIntegrity, source,
			"checksum mismatch for %s: got sha256 %s, want %s", path, sums.SHA256, expectedSHA256)
	}
	return sums, nil
}
