/*
Package dat implements parsing of the Logiqx XML dat files published by
ROM/Disc preservation projects such as http://redump.org and
https://no-intro.org. Only the subset of the DTD used by these projects is
implemented.

A dat file is the source of the checksum table used to identify games. Each
ROM can also be marked as matched once it has been found in a library, and
when the File is marshalled back to XML any matched ROMs are left out. A
Game with every ROM matched is left out entirely, so the output is a report
of what is still missing:

        f, err := dat.Load("Nintendo - Nintendo Entertainment System.dat")
        if err != nil {
                panic(err)
        }

        // have is the set of SHA1 checksums already catalogued
        f.Match(romlib.SHA1, have)

        b, err := xml.MarshalIndent(f, "", "\t")
        if err != nil {
                panic(err)
        }

        fmt.Println(string(b))
*/
package dat

// BUG(bodgit): Due to how encoding/xml works, <rom> elements are not marshalled as self-closing

import (
	"encoding/xml"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bodgit/romlib"
)

// Header represents the header section in the XML dat file
type Header struct {
	XMLName     xml.Name `xml:"header"`
	Name        string   `xml:"name"`
	Description string   `xml:"description"`
	Version     string   `xml:"version"`
	Date        string   `xml:"date"`
	Author      string   `xml:"author"`
	Homepage    string   `xml:"homepage"`
	URL         string   `xml:"url"`
}

// File represents the whole XML dat file. It consists of one Header followed
// zero or more Games
type File struct {
	XMLName xml.Name `xml:"datafile"`
	Header  Header   `xml:"header"`
	Game    []Game   `xml:"game"`
}

// Parse decodes a dat file from r
func Parse(r io.Reader) (*File, error) {
	f := new(File)
	if err := xml.NewDecoder(r).Decode(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Load decodes the dat file at path
func Load(path string) (*File, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return Parse(r)
}

// Match marks every ROM whose checksum of type c is in have as matched and
// returns how many ROMs were marked
func (f *File) Match(c romlib.Checksum, have map[string]bool) int {
	n := 0
	for i := range f.Game {
		for j := range f.Game[i].ROM {
			r := &f.Game[i].ROM[j]
			if v := r.Checksum(c); v != "" && have[v] {
				r.Matched()
				n++
			}
		}
	}
	return n
}

// Missing returns the Games that still have at least one unmatched ROM
func (f *File) Missing() []Game {
	var games []Game
	for _, g := range f.Game {
		if !g.isComplete() {
			games = append(games, g)
		}
	}
	return games
}

func (f *File) isComplete() bool {
	for _, g := range f.Game {
		if !g.isComplete() {
			return false
		}
	}
	return true
}

// MarshalXML is required by the xml.Marshaler interface. It encodes the File
// as XML if at least one of its Games has at least one ROM that has not been
// matched
func (f *File) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if f.isComplete() {
		return nil
	}

	// Need to override this
	start = xml.StartElement{Name: xml.Name{Local: "datafile"}}

	if err := e.EncodeToken(start); err != nil {
		return err
	}

	if err := e.EncodeElement(f.Header, xml.StartElement{Name: xml.Name{Local: "header"}}); err != nil {
		return err
	}

	for _, g := range f.Missing() {
		if err := e.EncodeElement(g, xml.StartElement{Name: xml.Name{Local: "game"}}); err != nil {
			return err
		}
	}

	if err := e.EncodeToken(start.End()); err != nil {
		return err
	}

	return e.Flush()
}

// Reset returns each Game within File f back to its original state
func (f *File) Reset() {
	for i := range f.Game {
		f.Game[i].Reset()
	}
}

// Release is a regional release of a Game
type Release struct {
	Name   string `xml:"name,attr"`
	Region string `xml:"region,attr"`
}

// Game represents one game within an XML dat file. It contains zero or more
// ROMs
type Game struct {
	XMLName      xml.Name  `xml:"game"`
	Name         string    `xml:"name,attr"`
	Category     string    `xml:"category,omitempty"`
	Description  string    `xml:"description"`
	Year         string    `xml:"year,omitempty"`
	Manufacturer string    `xml:"manufacturer,omitempty"`
	Release      []Release `xml:"release,omitempty"`
	ROM          []ROM     `xml:"rom"`
}

// Region returns the region of the first release, if any
func (g *Game) Region() string {
	if len(g.Release) == 0 {
		return ""
	}
	return g.Release[0].Region
}

// Metadata returns the descriptive fields of the Game
func (g *Game) Metadata() romlib.Metadata {
	title := g.Description
	if title == "" {
		title = g.Name
	}
	return romlib.Metadata{
		Title:       title,
		Region:      g.Region(),
		Developer:   g.Manufacturer,
		ReleaseDate: g.Year,
		Genre:       g.Category,
	}
}

// Matched marks Game g as found in some external repository. By doing this
// it will not be marshalled back into XML
func (g *Game) Matched() {
	for i := range g.ROM {
		g.ROM[i].Matched()
	}
}

func (g *Game) isComplete() bool {
	for _, r := range g.ROM {
		if !r.isComplete() {
			return false
		}
	}
	return true
}

// Reset returns each ROM used by Game g back to its original state
func (g *Game) Reset() {
	for i := range g.ROM {
		g.ROM[i].Reset()
	}
}

// ROM represents one ROM within an XML dat file
type ROM struct {
	XMLName xml.Name `xml:"rom"`
	Name    string   `xml:"name,attr"`
	Size    uint64   `xml:"size,attr"`
	CRC32   string   `xml:"crc,attr"`
	MD5     string   `xml:"md5,attr"`
	SHA1    string   `xml:"sha1,attr"`
	matched bool
}

// Checksum returns the lowercase checksum value of the requested type
func (r *ROM) Checksum(t romlib.Checksum) string {
	var v string
	switch t {
	case romlib.CRC32:
		v = r.CRC32
	case romlib.MD5:
		v = r.MD5
	case romlib.SHA1:
		v = r.SHA1
	}
	return strings.ToLower(v)
}

// MarshalXML is required by the xml.Marshaler interface. It encodes the ROM
// as XML if the ROM has not been matched
func (r *ROM) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if r.isComplete() {
		return nil
	}

	start.Attr = []xml.Attr{
		{Name: xml.Name{Local: "name"}, Value: r.Name},
		{Name: xml.Name{Local: "size"}, Value: strconv.FormatUint(r.Size, 10)},
		{Name: xml.Name{Local: "crc"}, Value: r.CRC32},
		{Name: xml.Name{Local: "md5"}, Value: r.MD5},
		{Name: xml.Name{Local: "sha1"}, Value: r.SHA1},
	}

	if err := e.EncodeToken(start); err != nil {
		return err
	}

	if err := e.EncodeToken(start.End()); err != nil {
		return err
	}

	return e.Flush()
}

// Matched marks ROM r as found in some external repository. By doing this
// it will not be marshalled back into XML
func (r *ROM) Matched() {
	r.matched = true
}

func (r *ROM) isComplete() bool {
	return r.matched
}

// Reset returns ROM r to its original state such that it will be marshalled
// back into XML
func (r *ROM) Reset() {
	r.matched = false
}
