package romlib

import (
	"archive/zip"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bodgit/plumbing"
	"github.com/bodgit/sevenzip"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/nwaples/rardecode/v2"
	"github.com/ulikunitz/xz"
)

// Reader is the interface implemented by all ROM readers
type Reader interface {
	// Close closes access to the underlying file. Any other methods
	// are not guaranteed to work after this has been called
	Close() error
	// Files returns all files accessible by the implementation, sorted
	// by name
	Files() []string
	// Name returns the full path to the underlying file
	Name() string
	// Open returns an io.ReadCloser for any file listed by the Files
	// method
	Open(string) (io.ReadCloser, error)
	// Rx returns the number of bytes read by the implementation
	Rx() uint64
	// Size returns the size of any file listed by the Files method
	Size(string) (uint64, error)
}

// Validator is the interface optionally implemented by a ROM reader if it can
// validate its integrity somehow
type Validator interface {
	// Valid returns if the underlying file or container is considered
	// correct
	Valid() bool
}

var (
	errNotFile      = errors.New("not a file")
	errFileNotFound = errors.New("file not found")
	// ErrNotTorrentZip is returned if a zip file does not have the
	// correct archive comment
	ErrNotTorrentZip = errors.New("not a torrent zip")
)

// ArchiveExtensions lists the container extensions NewReader can look
// inside
var ArchiveExtensions = []string{".7z", ".rar", ".zip"}

var compressedExtensions = []string{".gz", ".xz"}

// IsArchive reports whether filename has an archive or compressed file
// extension
func IsArchive(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range ArchiveExtensions {
		if ext == e {
			return true
		}
	}
	for _, e := range compressedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Path returns the path used to refer to file within r. Members of
// archives are addressed as if the archive were a directory
func Path(r Reader, file string) string {
	switch r.(type) {
	case *FileReader, *CompressedReader:
		return r.Name()
	}
	return filepath.Join(r.Name(), file)
}

// NewReader uses heuristics to work out the type of file passed and uses
// the most appropriate Reader to access it
func NewReader(path string) (Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.Mode().IsRegular() {
		return nil, errNotFile
	}

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, err
	}

	for m := mime; m != nil; m = m.Parent() {
		switch m.Extension() {
		case ".7z":
			return NewSevenZipReader(path)
		case ".rar":
			return NewRarReader(path)
		case ".gz", ".xz":
			return NewCompressedReader(path, m.Extension())
		case ".zip":
			r, err := NewTorrentZipReader(path)
			if err != ErrNotTorrentZip {
				return r, err
			}
			return NewZipReader(path)
		}
	}

	return NewFileReader(path)
}

// FileReader reads a single regular file and coerces it into looking like
// an archive containing exactly one file
type FileReader struct {
	directory string
	filename  string
	size      uint64
	rx        plumbing.WriteCounter
}

// NewFileReader returns a new FileReader for the passed filename
func NewFileReader(filename string) (*FileReader, error) {
	r := &FileReader{
		directory: filepath.Dir(filename),
		filename:  filepath.Base(filename),
	}

	info, err := os.Stat(filename)
	if err != nil {
		return nil, err
	}

	if !info.Mode().IsRegular() {
		return nil, errNotFile
	}

	r.size = uint64(info.Size())

	return r, nil
}

// Close closes access to the underlying file. Any other methods are not
// guaranteed to work after this has been called
func (r *FileReader) Close() error {
	return nil
}

// Files returns all files accessible by the implementation.
func (r *FileReader) Files() []string {
	return []string{r.filename}
}

// Name returns the full path to the underlying file
func (r *FileReader) Name() string {
	return filepath.Join(r.directory, r.filename)
}

// Open returns an io.ReadCloser for any file listed by the Files method
func (r *FileReader) Open(filename string) (io.ReadCloser, error) {
	if filename != r.filename {
		return nil, errFileNotFound
	}
	file, err := os.Open(filepath.Join(r.directory, filename))
	if err != nil {
		return nil, err
	}

	return plumbing.TeeReadCloser(file, &r.rx), nil
}

// Rx returns the number of bytes read by the implementation
func (r *FileReader) Rx() uint64 {
	return r.rx.Count()
}

// Size returns the size of any file listed by the Files method
func (r *FileReader) Size(filename string) (uint64, error) {
	if filename != r.filename {
		return 0, errFileNotFound
	}
	return r.size, nil
}

// CompressedReader reads a single gzip or xz compressed file and presents
// the decompressed data as a file named after the compressed file without
// its compression extension
type CompressedReader struct {
	path     string
	format   string
	filename string
	size     uint64
	rx       plumbing.WriteCounter
}

// NewCompressedReader returns a new CompressedReader for the passed file,
// format is either ".gz" or ".xz"
func NewCompressedReader(path, format string) (*CompressedReader, error) {
	base := filepath.Base(path)
	if strings.EqualFold(filepath.Ext(base), format) {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}

	r := &CompressedReader{
		path:     path,
		format:   format,
		filename: base,
	}

	// The decompressed size is only known after reading everything
	rc, err := r.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		return nil, err
	}
	r.size = uint64(n)

	return r, nil
}

type compressedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (c *compressedReadCloser) Close() (err error) {
	for _, closer := range c.closers {
		if e := closer.Close(); e != nil && err == nil {
			err = e
		}
	}
	return
}

func (r *CompressedReader) open() (io.ReadCloser, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}

	src := io.TeeReader(file, &r.rx)

	switch r.format {
	case ".gz":
		gz, err := gzip.NewReader(src)
		if err != nil {
			file.Close()
			return nil, err
		}
		return &compressedReadCloser{gz, []io.Closer{gz, file}}, nil
	case ".xz":
		x, err := xz.NewReader(src)
		if err != nil {
			file.Close()
			return nil, err
		}
		return &compressedReadCloser{x, []io.Closer{file}}, nil
	}

	file.Close()

	return nil, fmt.Errorf("unsupported compression %q", r.format)
}

// Close closes access to the underlying file. Any other methods are not
// guaranteed to work after this has been called
func (r *CompressedReader) Close() error {
	return nil
}

// Files returns all files accessible by the implementation.
func (r *CompressedReader) Files() []string {
	return []string{r.filename}
}

// Name returns the full path to the underlying file
func (r *CompressedReader) Name() string {
	return r.path
}

// Open returns an io.ReadCloser for any file listed by the Files method
func (r *CompressedReader) Open(filename string) (io.ReadCloser, error) {
	if filename != r.filename {
		return nil, errFileNotFound
	}
	return r.open()
}

// Rx returns the number of compressed bytes read by the implementation
func (r *CompressedReader) Rx() uint64 {
	return r.rx.Count()
}

// Size returns the decompressed size of any file listed by the Files method
func (r *CompressedReader) Size(filename string) (uint64, error) {
	if filename != r.filename {
		return 0, errFileNotFound
	}
	return r.size, nil
}

func sortedKeys[V any](m map[string]V) []string {
	files := make([]string, 0, len(m))
	for f := range m {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func isHidden(name string) bool {
	return name == "" || name[0] == '.' || filepath.Dir(name) != "."
}

// ZipReader reads a zip archive and provides access to any regular files
// contained within. Hidden files, directories and any files not in the
// top level are inaccessible
type ZipReader struct {
	file   *os.File
	reader *zip.Reader
	files  map[string]*zip.File
	rx     plumbing.WriteCounter
}

// NewZipReader returns a new ZipReader for the passed zip archive
func NewZipReader(filename string) (r *ZipReader, err error) {
	r = &ZipReader{
		files: make(map[string]*zip.File),
	}

	r.file, err = os.Open(filename)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			r.file.Close()
		}
	}()

	var info os.FileInfo
	info, err = r.file.Stat()
	if err != nil {
		return
	}

	r.reader, err = zip.NewReader(plumbing.TeeReaderAt(r.file, &r.rx), info.Size())
	if err != nil {
		return
	}

	for _, file := range r.reader.File {
		if !file.Mode().IsRegular() || isHidden(file.Name) {
			continue
		}
		r.files[file.Name] = file
	}

	return
}

// Close closes access to the underlying file. Any other methods are not
// guaranteed to work after this has been called
func (r *ZipReader) Close() error {
	return r.file.Close()
}

// Files returns all files accessible by the implementation.
func (r *ZipReader) Files() []string {
	return sortedKeys(r.files)
}

// Name returns the full path to the underlying file
func (r *ZipReader) Name() string {
	return r.file.Name()
}

// Open returns an io.ReadCloser for any file listed by the Files method
func (r *ZipReader) Open(filename string) (io.ReadCloser, error) {
	file, ok := r.files[filename]
	if !ok {
		return nil, errFileNotFound
	}
	return file.Open()
}

// Rx returns the number of bytes read by the implementation
func (r *ZipReader) Rx() uint64 {
	return r.rx.Count()
}

// Size returns the size of any file listed by the Files method
func (r *ZipReader) Size(filename string) (uint64, error) {
	file, ok := r.files[filename]
	if !ok {
		return 0, errFileNotFound
	}
	return file.UncompressedSize64, nil
}

// TorrentZipReader reads a zip archive and provides access to any regular files
// contained within. Hidden files, directories and any files not in the
// top level are inaccessible
type TorrentZipReader struct {
	*ZipReader
	valid bool
}

const (
	commentPrefix              = "TORRENTZIPPED-"
	localFileHeaderLength      = 30
	centralFileDirectoryLength = 46
)

// NewTorrentZipReader returns a new TorrentZipReader for the passed zip
// archive. It extends NewZipReader to check that the zip archive has the
// correctly formatted comment and validates that the CRC of the central
// directory matches the comment value
func NewTorrentZipReader(filename string) (r *TorrentZipReader, err error) {
	r = new(TorrentZipReader)

	r.ZipReader, err = NewZipReader(filename)
	if err != nil {
		return
	}
	reader := r.ZipReader.reader

	if !strings.HasPrefix(reader.Comment, commentPrefix) {
		r.ZipReader.Close()
		err = ErrNotTorrentZip
		return
	}

	// Work out the start and length of the central directory
	socd, eocd := int64(0), int64(0)
	for _, file := range reader.File {
		socd += int64(localFileHeaderLength + len(file.Name))
		socd += int64(file.CompressedSize64)
		eocd += int64(centralFileDirectoryLength + len(file.Name))
	}

	h := crc32.NewIEEE()
	sr := io.NewSectionReader(plumbing.TeeReaderAt(r.ZipReader.file, &r.ZipReader.rx), socd, eocd)
	if _, err = io.Copy(h, sr); err != nil {
		return
	}
	r.valid = strings.TrimPrefix(reader.Comment, commentPrefix) == fmt.Sprintf("%X", h.Sum(nil))

	return
}

// Valid confirms the checksum of the central directory in the zip archive
// matches the value in the archive comment
func (r *TorrentZipReader) Valid() bool {
	return r.valid
}

// SevenZipReader reads a 7zip archive and provides access to any regular
// files contained within. Hidden files, directories and any files not in
// the top level are inaccessible
type SevenZipReader struct {
	file   *os.File
	reader *sevenzip.Reader
	files  map[string]*sevenzip.File
	rx     plumbing.WriteCounter
}

// NewSevenZipReader returns a new SevenZipReader for the passed 7zip archive
func NewSevenZipReader(filename string) (r *SevenZipReader, err error) {
	r = &SevenZipReader{
		files: make(map[string]*sevenzip.File),
	}

	r.file, err = os.Open(filename)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			r.file.Close()
		}
	}()

	var info os.FileInfo
	info, err = r.file.Stat()
	if err != nil {
		return
	}

	r.reader, err = sevenzip.NewReader(plumbing.TeeReaderAt(r.file, &r.rx), info.Size())
	if err != nil {
		return
	}

	for _, file := range r.reader.File {
		if !file.Mode().IsRegular() || isHidden(file.Name) {
			continue
		}
		r.files[file.Name] = file
	}

	return
}

// Close closes access to the underlying file. Any other methods are not
// guaranteed to work after this has been called
func (r *SevenZipReader) Close() error {
	return r.file.Close()
}

// Files returns all files accessible by the implementation.
func (r *SevenZipReader) Files() []string {
	return sortedKeys(r.files)
}

// Name returns the full path to the underlying file
func (r *SevenZipReader) Name() string {
	return r.file.Name()
}

// Open returns an io.ReadCloser for any file listed by the Files method
func (r *SevenZipReader) Open(filename string) (io.ReadCloser, error) {
	file, ok := r.files[filename]
	if !ok {
		return nil, errFileNotFound
	}
	return file.Open()
}

// Rx returns the number of bytes read by the implementation
func (r *SevenZipReader) Rx() uint64 {
	return r.rx.Count()
}

// Size returns the size of any file listed by the Files method
func (r *SevenZipReader) Size(filename string) (uint64, error) {
	file, ok := r.files[filename]
	if !ok {
		return 0, errFileNotFound
	}
	return file.UncompressedSize, nil
}

// RarReader reads a RAR archive and provides access to any regular files
// contained within. RAR archives can only be read sequentially so every
// Open rewinds and scans forward to the requested file. Only one file
// should be open at a time
type RarReader struct {
	file  *os.File
	files map[string]uint64
	rx    plumbing.WriteCounter
}

// NewRarReader returns a new RarReader for the passed RAR archive
func NewRarReader(filename string) (r *RarReader, err error) {
	r = &RarReader{
		files: make(map[string]uint64),
	}

	r.file, err = os.Open(filename)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			r.file.Close()
		}
	}()

	var reader *rardecode.Reader
	if reader, err = r.rewind(); err != nil {
		return
	}

	for {
		var header *rardecode.FileHeader
		header, err = reader.Next()
		if errors.Is(err, io.EOF) {
			err = nil
			break
		}
		if err != nil {
			return
		}
		if header.IsDir || isHidden(header.Name) {
			continue
		}
		r.files[header.Name] = uint64(header.UnPackedSize)
	}

	return
}

func (r *RarReader) rewind() (*rardecode.Reader, error) {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return rardecode.NewReader(io.TeeReader(r.file, &r.rx))
}

// Close closes access to the underlying file. Any other methods are not
// guaranteed to work after this has been called
func (r *RarReader) Close() error {
	return r.file.Close()
}

// Files returns all files accessible by the implementation.
func (r *RarReader) Files() []string {
	return sortedKeys(r.files)
}

// Name returns the full path to the underlying file
func (r *RarReader) Name() string {
	return r.file.Name()
}

// Open returns an io.ReadCloser for any file listed by the Files method
func (r *RarReader) Open(filename string) (io.ReadCloser, error) {
	if _, ok := r.files[filename]; !ok {
		return nil, errFileNotFound
	}

	reader, err := r.rewind()
	if err != nil {
		return nil, err
	}

	for {
		header, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errFileNotFound
			}
			return nil, err
		}
		if header.Name == filename {
			return io.NopCloser(reader), nil
		}
	}
}

// Rx returns the number of bytes read by the implementation
func (r *RarReader) Rx() uint64 {
	return r.rx.Count()
}

// Size returns the size of any file listed by the Files method
func (r *RarReader) Size(filename string) (uint64, error) {
	size, ok := r.files[filename]
	if !ok {
		return 0, errFileNotFound
	}
	return size, nil
}
