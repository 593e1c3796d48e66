package romlib

import (
	"path/filepath"
	"strings"
)

// Metadata is the descriptive information known about a game, usually
// sourced from a reference database keyed by checksum
type Metadata struct {
	Title       string
	Region      string
	Developer   string
	ReleaseDate string
	Genre       string
	Description string
	ArtworkURL  string
}

// GameRecord is the identity and metadata of one catalogued game
type GameRecord struct {
	System     string
	Checksum   string
	Path       string
	Size       uint64
	HeaderSize uint64
	Metadata
	// Progress is the fraction of the scan completed when the record
	// was emitted
	Progress float64
}

// NewGameRecord returns a GameRecord for path with the title derived from
// the file name
func NewGameRecord(path, system, checksum string) GameRecord {
	return GameRecord{
		System:   system,
		Checksum: checksum,
		Path:     path,
		Metadata: Metadata{
			Title: Title(path),
		},
	}
}

// Merge copies every non-empty field of m into the record
func (r *GameRecord) Merge(m Metadata) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&r.Title, m.Title)
	set(&r.Region, m.Region)
	set(&r.Developer, m.Developer)
	set(&r.ReleaseDate, m.ReleaseDate)
	set(&r.Genre, m.Genre)
	set(&r.Description, m.Description)
	set(&r.ArtworkURL, m.ArtworkURL)
}

// Valid returns ErrInvalidRecord unless the record has both a system and a
// checksum
func (r *GameRecord) Valid() error {
	if r.Checksum == "" || r.System == "" {
		return ErrInvalidRecord
	}
	return nil
}

// Title returns the file name of path without any directory or extension
func Title(path string) string {
	base := filepath.Base(path)
	for _, ext := range compressedExtensions {
		if strings.EqualFold(filepath.Ext(base), ext) {
			base = strings.TrimSuffix(base, filepath.Ext(base))
			break
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Ext returns the lowercase extension of filename. A trailing compression
// extension such as ".gz" is ignored so "game.nes.gz" yields ".nes"
func Ext(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, c := range compressedExtensions {
		if ext == c {
			return strings.ToLower(filepath.Ext(strings.TrimSuffix(filename, filepath.Ext(filename))))
		}
	}
	return ext
}
