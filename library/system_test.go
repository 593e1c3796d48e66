package library

import (
	"context"
	"errors"
	"testing"

	"github.com/bodgit/romlib"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genesisData(seed int64) []byte {
	b := romData(seed, 0x1000)
	copy(b[0x100:], "SEGA GENESIS")
	return b
}

func TestResolveSingleCandidate(t *testing.T) {
	s := newMemStore()
	dir := t.TempDir()
	data := romData(1, 0x8000)
	path := writeFile(t, dir, "game.nes", append(nesHeader(), data...))

	r, err := romlib.NewFileReader(path)
	require.NoError(t, err)

	res, err := NewSystemResolver(s, zerolog.Nop()).Resolve(context.Background(), r, "game.nes")
	require.NoError(t, err)
	assert.Equal(t, Resolution{System: romlib.NES, HeaderSize: 16, Checksum: sha1hex(data)}, res)
	assert.Equal(t, 0, s.lookups())
}

func TestResolve(t *testing.T) {
	genesis := genesisData(2)
	other := romData(3, 0x1000)

	tables := map[string]struct {
		data      []byte
		checksums map[string][]string
		want      Resolution
		err       error
	}{
		"header signature": {
			data: genesis,
			want: Resolution{System: "Genesis", Checksum: sha1hex(genesis)},
		},
		"header wins over checksum table": {
			data:      genesis,
			checksums: map[string][]string{sha1hex(genesis): {"PlayStation"}},
			want:      Resolution{System: "Genesis", Checksum: sha1hex(genesis), Conflict: true},
		},
		"header agrees with checksum table": {
			data:      genesis,
			checksums: map[string][]string{sha1hex(genesis): {"Genesis", "PlayStation"}},
			want:      Resolution{System: "Genesis", Checksum: sha1hex(genesis)},
		},
		"checksum table": {
			data:      other,
			checksums: map[string][]string{sha1hex(other): {"PlayStation"}},
			want:      Resolution{System: "PlayStation", Checksum: sha1hex(other)},
		},
		"ambiguous": {
			data: other,
			err:  &romlib.AmbiguousSystemError{Candidates: []string{"Genesis", "PlayStation"}},
		},
		"checksum table lists another system": {
			data:      other,
			checksums: map[string][]string{sha1hex(other): {"Dreamcast"}},
			err:       &romlib.AmbiguousSystemError{Candidates: []string{"Genesis", "PlayStation"}},
		},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			s := newMemStore()
			s.headers = []romlib.HeaderDescriptor{
				{Result: "53454741", System: "Genesis", Offset: 0x100, Length: 4},
			}
			for k, v := range table.checksums {
				s.checksums[k] = v
			}

			path := writeFile(t, t.TempDir(), "game.bin", table.data)
			r, err := romlib.NewFileReader(path)
			require.NoError(t, err)

			res, err := NewSystemResolver(s, zerolog.Nop()).Resolve(context.Background(), r, "game.bin")
			if table.err != nil {
				var ambiguous *romlib.AmbiguousSystemError
				require.ErrorAs(t, err, &ambiguous)
				assert.Equal(t, path, ambiguous.Path)
				assert.Equal(t, table.err.(*romlib.AmbiguousSystemError).Candidates, ambiguous.Candidates)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, table.want, res)
		})
	}
}

func TestResolveShortFile(t *testing.T) {
	s := newMemStore()
	s.headers = []romlib.HeaderDescriptor{
		{Result: "53454741", System: "Genesis", Offset: 0x100, Length: 4},
	}
	data := []byte("tiny")
	s.checksums[sha1hex(data)] = []string{"PlayStation"}

	path := writeFile(t, t.TempDir(), "tiny.bin", data)
	r, err := romlib.NewFileReader(path)
	require.NoError(t, err)

	res, err := NewSystemResolver(s, zerolog.Nop()).Resolve(context.Background(), r, "tiny.bin")
	require.NoError(t, err)
	assert.Equal(t, "PlayStation", res.System)
}

func TestResolveErrors(t *testing.T) {
	s := newMemStore()
	dir := t.TempDir()
	resolver := NewSystemResolver(s, zerolog.Nop())
	ctx := context.Background()

	path := writeFile(t, dir, "game.xyz", []byte("data"))
	r, err := romlib.NewFileReader(path)
	require.NoError(t, err)
	_, err = resolver.Resolve(ctx, r, "game.xyz")
	assert.ErrorIs(t, err, romlib.ErrUnknownExtension)

	_, err = resolver.Candidates(ctx, "noextension")
	assert.ErrorIs(t, err, romlib.ErrUnknownExtension)

	s.checksumErr = errors.New("database is locked")
	path = writeFile(t, dir, "game.bin", romData(4, 64))
	r, err = romlib.NewFileReader(path)
	require.NoError(t, err)
	_, err = resolver.Resolve(ctx, r, "game.bin")
	var storeErr *romlib.ReferenceStoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "systems for checksum", storeErr.Op)
	assert.ErrorIs(t, err, s.checksumErr)
}
