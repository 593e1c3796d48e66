package romlib

import (
	"bytes"
	"io"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func romData(size int) []byte {
	b := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(b)
	return b
}

func withHeader(header []byte, size int, data []byte) []byte {
	h := make([]byte, size)
	copy(h, header)
	return append(h, data...)
}

func TestHeaderSize(t *testing.T) {
	data := romData(32 * 1024)

	tables := map[string]struct {
		system string
		input  []byte
		want   uint64
	}{
		"nes headered":   {NES, withHeader([]byte{'N', 'E', 'S', 0x1a, 2, 1}, nesHeaderSize, data), nesHeaderSize},
		"nes plain":      {NES, data, 0},
		"nes short":      {NES, []byte{'N', 'E', 'S'}, 0},
		"fds headered":   {FDS, withHeader([]byte{'F', 'D', 'S', 0x1a}, fdsHeaderSize, data), fdsHeaderSize},
		"lynx headered":  {Lynx, withHeader([]byte("LYNX"), lynxHeaderSize, data), lynxHeaderSize},
		"lynx plain":     {Lynx, data, 0},
		"7800 headered":  {Atari7800, withHeader([]byte("\x01ATARI7800"), atari7800HeaderSize, data), atari7800HeaderSize},
		"snes copier":    {SNES, withHeader(nil, snesHeaderSize, data), snesHeaderSize},
		"snes plain":     {SNES, data, 0},
		"unknown system": {"Unknown", withHeader([]byte{'N', 'E', 'S', 0x1a}, nesHeaderSize, data), 0},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			got := HeaderSize(table.system, bytes.NewReader(table.input), uint64(len(table.input)))
			assert.Equal(t, table.want, got)
		})
	}
}

func TestHeaderInvariance(t *testing.T) {
	dir := t.TempDir()
	data := romData(40 * 1024)

	tables := map[string]struct {
		system string
		header []byte
		size   int
	}{
		"nes":  {NES, []byte{'N', 'E', 'S', 0x1a}, nesHeaderSize},
		"lynx": {Lynx, []byte("LYNX"), lynxHeaderSize},
		"snes": {SNES, nil, snesHeaderSize},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			plain := writeFile(t, dir, filepath.Join(name, "plain.rom"), data)
			headered := writeFile(t, dir, filepath.Join(name, "headered.rom"), withHeader(table.header, table.size, data))

			var sums []string
			for _, path := range []string{plain, headered} {
				r, err := NewFileReader(path)
				require.NoError(t, err)
				hs := HeaderSizeReader(table.system, r, filepath.Base(path))
				sum, err := ChecksumFile(path, hs)
				require.NoError(t, err)
				sums = append(sums, sum)
			}
			assert.Equal(t, sums[0], sums[1])
		})
	}
}

func TestResolveHeader(t *testing.T) {
	genesis := make([]byte, 0x200)
	copy(genesis[0x100:], "SEGA GENESIS")
	megadrive := make([]byte, 0x200)
	copy(megadrive[0x100:], "SEGA MEGA DRIVE")

	descriptors := []HeaderDescriptor{
		{Result: "4e45531a", System: NES, Offset: 0, Length: 4},
		{Result: "zz", System: "broken", Offset: 0x100, Length: 1},
		{Result: "53454741", System: "Genesis", Offset: 0x100, Length: 4},
		{Result: "534547412047454e45534953", System: "Genesis Exact", Offset: 0x100, Length: 12},
	}

	tables := map[string]struct {
		input  []byte
		system string
		ok     bool
	}{
		"first structural match wins": {genesis, "Genesis", true},
		"mega drive":                  {megadrive, "Genesis", true},
		"nes":                         {[]byte{'N', 'E', 'S', 0x1a, 0, 0}, NES, true},
		"too short":                   {[]byte{'N', 'E'}, "", false},
		"no match":                    {make([]byte, 0x200), "", false},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			d, ok := ResolveHeader(bytes.NewReader(table.input), descriptors)
			assert.Equal(t, table.ok, ok)
			assert.Equal(t, table.system, d.System)
		})
	}
}

type failingReaderAt struct{}

func (failingReaderAt) ReadAt([]byte, int64) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestResolveHeaderErrors(t *testing.T) {
	descriptors := []HeaderDescriptor{{Result: "4e45531a", System: NES, Length: 4}}

	_, ok := ResolveHeader(failingReaderAt{}, descriptors)
	assert.False(t, ok)

	_, ok = ResolveHeaderFile(filepath.Join(t.TempDir(), "missing.nes"), descriptors)
	assert.False(t, ok)

	path := writeFile(t, t.TempDir(), "game.nes", []byte{'N', 'E', 'S', 0x1a})
	d, ok := ResolveHeaderFile(path, descriptors)
	assert.True(t, ok)
	assert.Equal(t, NES, d.System)
	assert.Equal(t, int64(4), d.End())
}

func TestRegisterHeader(t *testing.T) {
	RegisterHeader("Test", magicHeader([]byte("TEST"), 2, 8))
	assert.True(t, HasHeader("Test"))

	input := []byte("..TEST..payload")
	assert.Equal(t, uint64(8), HeaderSize("Test", bytes.NewReader(input), uint64(len(input))))
	assert.Equal(t, uint64(0), HeaderSize("Test", bytes.NewReader(input[:4]), 4))
}

func TestAliasHeader(t *testing.T) {
	data := romData(32 * 1024)
	input := withHeader([]byte{'N', 'E', 'S', 0x1a, 2, 1}, nesHeaderSize, data)

	assert.Equal(t, uint64(0), HeaderSize("Family Computer", bytes.NewReader(input), uint64(len(input))))

	require.NoError(t, AliasHeader("Family Computer", NES))
	assert.True(t, HasHeader("Family Computer"))
	assert.Equal(t, uint64(nesHeaderSize), HeaderSize("Family Computer", bytes.NewReader(input), uint64(len(input))))

	err := AliasHeader("Other", "Unknown")
	assert.ErrorIs(t, err, ErrUnknownHeaderRule)
	assert.False(t, HasHeader("Other"))
}
