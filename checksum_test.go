package romlib

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, b []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func TestSum(t *testing.T) {
	tables := map[string]struct {
		input string
		crc32 string
		md5   string
		sha1  string
	}{
		"empty": {
			"",
			"00000000",
			"d41d8cd98f00b204e9800998ecf8427e",
			"da39a3ee5e6b4b0d3255bfef95601890afd80709",
		},
		"abc": {
			"abc",
			"352441c2",
			"900150983cd24fb0d6963f7d28e17f72",
			"a9993e364706816aba3e25717850c26c9cd0d89d",
		},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			c, err := Sum(strings.NewReader(table.input))
			assert.Equal(t, nil, err)
			assert.Equal(t, table.crc32, c.String(CRC32))
			assert.Equal(t, table.md5, c.String(MD5))
			assert.Equal(t, table.sha1, c.String(SHA1))
			assert.Nil(t, c.Get(Checksum(42)))
		})
	}
}

func TestChecksumFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte("xxabc")
	path := writeFile(t, dir, "test.bin", data)

	tables := map[string]struct {
		offset uint64
		err    bool
	}{
		"whole file": {0, false},
		"offset":     {2, false},
		"at end":     {5, false},
		"beyond end": {6, true},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			got, err := ChecksumFile(path, table.offset)
			if table.err {
				var ioErr *IOError
				assert.True(t, errors.As(err, &ioErr))
				assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
				return
			}
			assert.Equal(t, nil, err)
			want := sha1.Sum(data[table.offset:])
			assert.Equal(t, hex.EncodeToString(want[:]), got)
		})
	}
}

func TestChecksumFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 4096)
	a := writeFile(t, dir, "a.nes", data)
	b := writeFile(t, dir, filepath.Join("other", "renamed.sfc"), data)

	sa, err := ChecksumFile(a, 0)
	require.NoError(t, err)
	sb, err := ChecksumFile(b, 0)
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
}

func TestChecksumFileMissing(t *testing.T) {
	_, err := ChecksumFile(filepath.Join(t.TempDir(), "missing.nes"), 0)
	var ioErr *IOError
	assert.True(t, errors.As(err, &ioErr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestChecksumReader(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test.bin", []byte("xxabc"))

	r, err := NewFileReader(path)
	require.NoError(t, err)
	defer r.Close()

	c, err := ChecksumReader(r, "test.bin", 2)
	assert.Equal(t, nil, err)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", c.String(SHA1))
	assert.Equal(t, uint64(5), r.Rx())

	_, err = ChecksumReader(r, "nonexistent", 0)
	assert.True(t, errors.Is(err, errFileNotFound))
}
