package romlib

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

var (
	testBin = []byte("01234567890123456789")
	testNes = append([]byte{'N', 'E', 'S', 0x1a}, make([]byte, 28)...)
)

func createZip(t *testing.T, path string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, b := range map[string][]byte{"test.bin": testBin, "test.nes": testNes, ".hidden": testBin, "sub/test.bin": testBin} {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(b)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func createTorrentZip(t *testing.T, path string) {
	t.Helper()

	w, err := NewTorrentZipWriter(path)
	require.NoError(t, err)
	for _, name := range []string{"test.bin", "test.nes"} {
		fw, err := w.Create(name)
		require.NoError(t, err)
		b := testBin
		if name == "test.nes" {
			b = testNes
		}
		_, err = fw.Write(b)
		require.NoError(t, err)
		require.NoError(t, fw.Close())
	}
	require.NoError(t, w.Close())
}

func createCompressed(t *testing.T, path string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	var w io.WriteCloser
	switch filepath.Ext(path) {
	case ".gz":
		w = gzip.NewWriter(f)
	case ".xz":
		w, err = xz.NewWriter(f)
		require.NoError(t, err)
	}
	_, err = w.Write(testBin)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestNewReader(t *testing.T) {
	dir := t.TempDir()

	plain := writeFile(t, dir, "test.bin", testBin)
	archive := filepath.Join(dir, "test.zip")
	createZip(t, archive)
	torrent := filepath.Join(dir, "torrent.zip")
	createTorrentZip(t, torrent)
	gz := filepath.Join(dir, "test.bin.gz")
	createCompressed(t, gz)
	xzPath := filepath.Join(dir, "test.bin.xz")
	createCompressed(t, xzPath)

	tables := map[string]struct {
		path   string
		reader string
		files  []string
		name   string
	}{
		"file": {
			plain,
			"*romlib.FileReader",
			[]string{"test.bin"},
			plain,
		},
		"zip": {
			archive,
			"*romlib.ZipReader",
			[]string{"test.bin", "test.nes"},
			filepath.Join(archive, "test.bin"),
		},
		"torrentzip": {
			torrent,
			"*romlib.TorrentZipReader",
			[]string{"test.bin", "test.nes"},
			filepath.Join(torrent, "test.bin"),
		},
		"gzip": {
			gz,
			"*romlib.CompressedReader",
			[]string{"test.bin"},
			gz,
		},
		"xz": {
			xzPath,
			"*romlib.CompressedReader",
			[]string{"test.bin"},
			xzPath,
		},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			r, err := NewReader(table.path)
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, table.reader, fmt.Sprintf("%T", r))
			assert.Equal(t, table.path, r.Name())
			assert.Equal(t, table.files, r.Files())
			assert.Equal(t, table.name, Path(r, "test.bin"))

			_, err = r.Size("nonexistent")
			assert.Equal(t, errFileNotFound, err)

			size, err := r.Size("test.bin")
			assert.NoError(t, err)
			assert.Equal(t, uint64(len(testBin)), size)

			_, err = r.Open("nonexistent")
			assert.Equal(t, errFileNotFound, err)

			reader, err := r.Open("test.bin")
			require.NoError(t, err)
			b := new(bytes.Buffer)
			_, err = io.Copy(b, reader)
			assert.NoError(t, err)
			assert.Equal(t, testBin, b.Bytes())
			assert.NoError(t, reader.Close())

			assert.Greater(t, r.Rx(), uint64(0))

			if v, ok := r.(Validator); ok {
				assert.True(t, v.Valid())
			}
		})
	}
}

func TestNewReaderErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewReader(filepath.Join(dir, "nonexistent"))
	assert.True(t, os.IsNotExist(err))

	_, err = NewReader(dir)
	assert.Equal(t, errNotFile, err)

	_, err = NewTorrentZipReader(writeFile(t, dir, "plain.bin", testBin))
	assert.Error(t, err)

	archive := filepath.Join(dir, "test.zip")
	createZip(t, archive)
	_, err = NewTorrentZipReader(archive)
	assert.Equal(t, ErrNotTorrentZip, err)
}

func TestIsArchive(t *testing.T) {
	tables := map[string]bool{
		"game.zip":    true,
		"GAME.7Z":     true,
		"game.rar":    true,
		"game.nes.gz": true,
		"game.sfc.xz": true,
		"game.nes":    false,
		"game.cue":    false,
		"game":        false,
	}

	for name, want := range tables {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, IsArchive(name))
		})
	}
}

func TestExtAndTitle(t *testing.T) {
	tables := map[string]struct {
		ext   string
		title string
	}{
		"Super Mario Bros. (World).nes":  {".nes", "Super Mario Bros. (World)"},
		"dir/Game.SFC":                   {".sfc", "Game"},
		"Zelda.nes.gz":                   {".nes", "Zelda"},
		"Metroid.nes.xz":                 {".nes", "Metroid"},
		"archive.zip":                    {".zip", "archive"},
		"noextension":                    {"", "noextension"},
		"Final Fantasy VII (Disc 1).cue": {".cue", "Final Fantasy VII (Disc 1)"},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, table.ext, Ext(name))
			assert.Equal(t, table.title, Title(name))
		})
	}
}
