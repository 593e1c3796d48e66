package dat

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bodgit/romlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDat = `<?xml version="1.0"?>
<!DOCTYPE datafile PUBLIC "-//Logiqx//DTD ROM Management Datafile//EN" "http://www.logiqx.com/Dats/datafile.dtd">
<datafile>
	<header>
		<name>Nintendo - Nintendo Entertainment System</name>
		<description>Nintendo - Nintendo Entertainment System</description>
		<version>20200101-000000</version>
		<author>test</author>
	</header>
	<game name="Alpha (USA)">
		<description>Alpha (USA)</description>
		<release name="Alpha (USA)" region="USA"/>
		<rom name="Alpha (USA).nes" size="24576" crc="AAAAAAAA" md5="0123456789ABCDEF0123456789ABCDEF" sha1="1111111111111111111111111111111111111111"/>
	</game>
	<game name="Beta (Europe)">
		<description>Beta (Europe)</description>
		<year>1987</year>
		<manufacturer>Beta Soft</manufacturer>
		<rom name="Beta (Europe).nes" size="40960" crc="BBBBBBBB" md5="FEDCBA9876543210FEDCBA9876543210" sha1="2222222222222222222222222222222222222222"/>
	</game>
</datafile>
`

func ExampleParse() {
	f, err := Parse(strings.NewReader(testDat))
	if err != nil {
		panic(err)
	}

	for _, g := range f.Game {
		fmt.Println(g.Name, g.ROM[0].Checksum(romlib.SHA1))
	}

	// Output: Alpha (USA) 1111111111111111111111111111111111111111
	// Beta (Europe) 2222222222222222222222222222222222222222
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dat")
	require.NoError(t, os.WriteFile(path, []byte(testDat), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Nintendo - Nintendo Entertainment System", f.Header.Name)
	assert.Len(t, f.Game, 2)

	_, err = Load(filepath.Join(dir, "missing.dat"))
	assert.True(t, os.IsNotExist(err))

	_, err = Parse(strings.NewReader("<datafile><game"))
	assert.Error(t, err)
}

func TestChecksum(t *testing.T) {
	f, err := Parse(strings.NewReader(testDat))
	require.NoError(t, err)

	r := f.Game[0].ROM[0]
	tables := map[romlib.Checksum]string{
		romlib.CRC32: "aaaaaaaa",
		romlib.MD5:   "0123456789abcdef0123456789abcdef",
		romlib.SHA1:  "1111111111111111111111111111111111111111",
	}

	for c, want := range tables {
		t.Run(c.String(), func(t *testing.T) {
			assert.Equal(t, want, r.Checksum(c))
		})
	}
}

func TestMetadata(t *testing.T) {
	f, err := Parse(strings.NewReader(testDat))
	require.NoError(t, err)

	assert.Equal(t, romlib.Metadata{Title: "Alpha (USA)", Region: "USA"}, f.Game[0].Metadata())
	assert.Equal(t, romlib.Metadata{Title: "Beta (Europe)", Developer: "Beta Soft", ReleaseDate: "1987"}, f.Game[1].Metadata())
}

func TestMatch(t *testing.T) {
	f, err := Parse(strings.NewReader(testDat))
	require.NoError(t, err)

	tables := map[string]struct {
		have    map[string]bool
		matched int
		missing []string
	}{
		"none": {
			map[string]bool{},
			0,
			[]string{"Alpha (USA)", "Beta (Europe)"},
		},
		"one": {
			map[string]bool{"1111111111111111111111111111111111111111": true},
			1,
			[]string{"Beta (Europe)"},
		},
		"all": {
			map[string]bool{
				"1111111111111111111111111111111111111111": true,
				"2222222222222222222222222222222222222222": true,
			},
			2,
			nil,
		},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			f.Reset()
			assert.Equal(t, table.matched, f.Match(romlib.SHA1, table.have))

			var missing []string
			for _, g := range f.Missing() {
				missing = append(missing, g.Name)
			}
			assert.Equal(t, table.missing, missing)

			b, err := xml.MarshalIndent(f, "", "\t")
			require.NoError(t, err)
			for _, name := range table.missing {
				assert.Contains(t, string(b), name)
			}
			if table.missing == nil {
				assert.Empty(t, b)
			}
		})
	}
}

func TestMarshalROM(t *testing.T) {
	g := Game{
		Name:        "test",
		Description: "description",
		ROM: []ROM{
			{Name: "test.bin", Size: 123, CRC32: "123", MD5: "456", SHA1: "789"},
		},
	}

	b, err := xml.Marshal(&g)
	require.NoError(t, err)
	assert.Equal(t, `<game name="test"><description>description</description><rom name="test.bin" size="123" crc="123" md5="456" sha1="789"></rom></game>`, string(b))

	g.Matched()
	b, err = xml.Marshal(&g)
	require.NoError(t, err)
	assert.Equal(t, `<game name="test"><description>description</description></game>`, string(b))
}
