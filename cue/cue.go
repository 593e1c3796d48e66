// Package cue parses the cue sheets that describe the track layout of an
// optical disc image.
package cue

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Audio is the mode of a CD audio track
const Audio = "AUDIO"

var (
	errTrackWithoutFile = errors.New("TRACK before FILE")
	errMissingFilename  = errors.New("FILE without a name")
	errNoFiles          = errors.New("no FILE entries")
)

// Track is one TRACK entry
type Track struct {
	Number int
	Mode   string
}

// Data reports whether the track holds data rather than audio
func (t Track) Data() bool {
	return !strings.EqualFold(t.Mode, Audio)
}

// File is one FILE entry and the tracks stored within it. Name is exactly
// as written in the sheet
type File struct {
	Name   string
	Type   string
	Tracks []Track
}

// Sheet is a parsed cue sheet
type Sheet struct {
	Files []File
}

// Parse reads a cue sheet from r. Commands other than FILE and TRACK are
// ignored
func Parse(r io.Reader) (*Sheet, error) {
	sheet := new(Sheet)

	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" {
			continue
		}

		command, rest := cut(line)
		switch strings.ToUpper(command) {
		case "FILE":
			name, rest := filename(rest)
			if name == "" {
				return nil, fmt.Errorf("line %d: %w", n, errMissingFilename)
			}
			sheet.Files = append(sheet.Files, File{
				Name: name,
				Type: strings.ToUpper(strings.TrimSpace(rest)),
			})
		case "TRACK":
			if len(sheet.Files) == 0 {
				return nil, fmt.Errorf("line %d: %w", n, errTrackWithoutFile)
			}
			number, mode := cut(rest)
			i, err := strconv.Atoi(number)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid track number: %w", n, err)
			}
			f := &sheet.Files[len(sheet.Files)-1]
			f.Tracks = append(f.Tracks, Track{
				Number: i,
				Mode:   strings.ToUpper(strings.TrimSpace(mode)),
			})
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return sheet, nil
}

// ParseFile parses the cue sheet at path. A sheet must name at least one
// file
func ParseFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet, err := Parse(f)
	if err != nil {
		return nil, err
	}

	if len(sheet.Files) == 0 {
		return nil, errNoFiles
	}

	return sheet, nil
}

// Paths returns the path of every file in the sheet, relative names are
// resolved against dir
func (s *Sheet) Paths(dir string) []string {
	paths := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		paths = append(paths, resolve(dir, f.Name))
	}
	return paths
}

// Primary returns the path of the first file holding a data track, or the
// first file if every track is audio
func (s *Sheet) Primary(dir string) string {
	if len(s.Files) == 0 {
		return ""
	}
	for _, f := range s.Files {
		for _, t := range f.Tracks {
			if t.Data() {
				return resolve(dir, f.Name)
			}
		}
	}
	return resolve(dir, s.Files[0].Name)
}

func resolve(dir, name string) string {
	name = filepath.FromSlash(strings.ReplaceAll(name, `\`, "/"))
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func cut(s string) (string, string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

func filename(s string) (string, string) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `"`) {
		if i := strings.Index(s[1:], `"`); i >= 0 {
			return s[1 : i+1], s[i+2:]
		}
		return strings.TrimPrefix(s, `"`), ""
	}

	// Unquoted names cannot contain spaces but the file type is optional
	return cut(s)
}
