package romlib

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Checksum is used to specify a checksum/hash type
type Checksum int

// Supported checksum/hash types
const (
	CRC32 Checksum = iota
	MD5
	SHA1
)

// Identity is the checksum type used as the canonical identity of a game
const Identity = SHA1

func (c Checksum) String() string {
	switch c {
	case CRC32:
		return "crc32"
	case MD5:
		return "md5"
	case SHA1:
		return "sha1"
	}
	return fmt.Sprintf("checksum(%d)", int(c))
}

// Checksums holds every supported checksum computed over the same bytes
type Checksums [][]byte

// Get returns the raw checksum of type c
func (s Checksums) Get(c Checksum) []byte {
	if int(c) < 0 || int(c) >= len(s) {
		return nil
	}
	return s[c]
}

// String returns the checksum of type c as lowercase hex
func (s Checksums) String(c Checksum) string {
	return hex.EncodeToString(s.Get(c))
}

// Sum computes all supported checksums in a single pass over r
func Sum(r io.Reader) (Checksums, error) {
	c := crc32.NewIEEE()
	m := md5.New()
	s := sha1.New()

	if _, err := io.Copy(io.MultiWriter(c, m, s), r); err != nil {
		return nil, err
	}

	return Checksums{c.Sum(nil)[:], m.Sum(nil)[:], s.Sum(nil)[:]}, nil
}

func sumFrom(r io.Reader, offset uint64) (Checksums, error) {
	if offset > 0 {
		n, err := io.CopyN(io.Discard, r, int64(offset))
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("offset %d beyond end of data (%d bytes): %w", offset, n, io.ErrUnexpectedEOF)
			}
			return nil, err
		}
	}
	return Sum(r)
}

// ChecksumReader computes the checksums of file within r, ignoring the
// first offset bytes
func ChecksumReader(r Reader, file string, offset uint64) (Checksums, error) {
	rc, err := r.Open(file)
	if err != nil {
		return nil, &IOError{Path: Path(r, file), Err: err}
	}
	defer rc.Close()

	c, err := sumFrom(rc, offset)
	if err != nil {
		return nil, &IOError{Path: Path(r, file), Err: err}
	}

	return c, nil
}

// ChecksumFile returns the identity checksum of the file at path, starting
// from offset and reading to the end of the file
func ChecksumFile(path string, offset uint64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &IOError{Path: path, Err: err}
	}
	defer f.Close()

	c, err := sumFrom(f, offset)
	if err != nil {
		return "", &IOError{Path: path, Err: err}
	}

	return c.String(Identity), nil
}
