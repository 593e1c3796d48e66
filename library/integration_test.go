package library_test

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/bodgit/romlib"
	"github.com/bodgit/romlib/library"
	"github.com/bodgit/romlib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reference = `
[[system]]
name = "NES"
core = "nestopia_libretro"
extensions = [".nes"]

[[system]]
name = "Famicom"
extensions = [".nes"]

[[header]]
system = "NES"
result = "4e45531a"
offset = 0
length = 4

[[header]]
system = "Famicom"
result = "46414d49"
offset = 0
length = 4
`

func TestWorkerWithStore(t *testing.T) {
	ctx := context.Background()

	s, err := store.Open(filepath.Join(t.TempDir(), "romlib.db"))
	require.NoError(t, err)
	defer s.Close()

	path := filepath.Join(t.TempDir(), "reference.toml")
	require.NoError(t, os.WriteFile(path, []byte(reference), 0o644))
	ref, err := store.LoadReference(path)
	require.NoError(t, err)
	require.NoError(t, s.ImportReference(ctx, ref))

	data := make([]byte, 0x8000)
	rand.New(rand.NewSource(1)).Read(data)
	sum := sha1.Sum(data)
	checksum := hex.EncodeToString(sum[:])

	require.NoError(t, s.AddChecksum(ctx, romlib.NES, checksum, romlib.Metadata{Title: "Balloon Fight", Region: "USA"}))

	dir := t.TempDir()
	header := []byte{'N', 'E', 'S', 0x1a, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.nes"), append(header, data...), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.nes"), data, 0o644))

	w, err := library.NewWorker(s, library.StateFile(filepath.Join(t.TempDir(), "scan.toml")))
	require.NoError(t, err)
	require.NoError(t, w.FindGameFiles(ctx, dir))

	stats := w.Stats()
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 0, stats.Conflicts)

	games, err := s.Games(ctx, romlib.NES)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, checksum, games[0].Checksum)
	assert.Equal(t, filepath.Join(dir, "a.nes"), games[0].Path)
	assert.Equal(t, "Balloon Fight", games[0].Title)
	assert.Equal(t, "USA", games[0].Region)
	assert.Equal(t, uint64(16), games[0].HeaderSize)

	// Scanning again finds nothing new
	require.NoError(t, w.FindGameFiles(ctx, dir))
	assert.Equal(t, 0, w.Stats().Added)
	assert.Equal(t, 2, w.Stats().Duplicates)
}
