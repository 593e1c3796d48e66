package store

import (
	"database/sql"
	"strings"

	"github.com/bodgit/romlib"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row scanner) (romlib.Metadata, error) {
	var title, region, developer, releaseDate, genre, description, artworkURL sql.NullString
	if err := row.Scan(&title, &region, &developer, &releaseDate, &genre, &description, &artworkURL); err != nil {
		return romlib.Metadata{}, err
	}
	return romlib.Metadata{
		Title:       title.String,
		Region:      region.String,
		Developer:   developer.String,
		ReleaseDate: releaseDate.String,
		Genre:       genre.String,
		Description: description.String,
		ArtworkURL:  artworkURL.String,
	}, nil
}

func scanGame(row scanner) (romlib.GameRecord, error) {
	var (
		g                                                                      romlib.GameRecord
		title, region, developer, releaseDate, genre, description, artworkURL sql.NullString
	)
	if err := row.Scan(
		&g.Checksum, &g.System, &g.Path, &g.Size, &g.HeaderSize, &g.Progress,
		&title, &region, &developer, &releaseDate, &genre, &description, &artworkURL,
	); err != nil {
		return romlib.GameRecord{}, err
	}
	g.Metadata = romlib.Metadata{
		Title:       title.String,
		Region:      region.String,
		Developer:   developer.String,
		ReleaseDate: releaseDate.String,
		Genre:       genre.String,
		Description: description.String,
		ArtworkURL:  artworkURL.String,
	}
	return g, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
