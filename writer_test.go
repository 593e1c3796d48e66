package romlib

import (
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryWriter(t *testing.T) {
	tables := map[string]struct {
		file string
		err  error
	}{
		"ok":        {"test.bin", nil},
		"directory": {filepath.Join("sub", "test.bin"), errDirectoryNotSupported},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "bios")
			existing := writeFile(t, dir, "existing.bin", []byte("keep"))

			w, err := NewDirectoryWriter(dir)
			require.NoError(t, err)
			assert.Equal(t, dir, w.Name())

			writer, err := w.Create(table.file)
			assert.Equal(t, table.err, err)
			if err != nil {
				return
			}

			_, err = io.CopyN(writer, rand.Reader, 20)
			require.NoError(t, err)

			// Nothing appears under the final name until Close
			assert.NoFileExists(t, filepath.Join(dir, table.file))
			assert.NoError(t, writer.Close())
			assert.NoError(t, writer.Close())

			assert.NoError(t, w.Close())
			assert.Equal(t, uint64(20), w.Tx())
			assert.FileExists(t, filepath.Join(dir, table.file))
			assert.FileExists(t, existing)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, 2)
		})
	}
}

func TestTorrentZipWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bios.zip")

	w, err := NewTorrentZipWriter(path)
	require.NoError(t, err)
	assert.Equal(t, path, w.Name())

	for _, name := range []string{"b.bin", "a.bin"} {
		writer, err := w.Create(name)
		require.NoError(t, err)
		_, err = io.CopyN(writer, rand.Reader, 20)
		require.NoError(t, err)
		assert.NoError(t, writer.Close())
	}

	assert.NoError(t, w.Close())
	assert.Greater(t, w.Tx(), uint64(0))
	assert.FileExists(t, path)

	r, err := NewTorrentZipReader(path)
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, r.Valid())
	assert.Equal(t, []string{"a.bin", "b.bin"}, r.Files())
}

func TestDirectoryWriterAbort(t *testing.T) {
	dir := t.TempDir()

	w, err := NewDirectoryWriter(dir)
	require.NoError(t, err)

	writer, err := w.Create("partial.bin")
	require.NoError(t, err)
	_, err = io.CopyN(writer, rand.Reader, 20)
	require.NoError(t, err)

	a, ok := writer.(Aborter)
	require.True(t, ok)
	assert.NoError(t, a.Abort())
	assert.NoError(t, writer.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
