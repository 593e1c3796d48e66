// Package artwork caches box art and other images for catalogued games.
//
// Images are fetched in the background, a cached image is never fetched
// again and there is only ever one request outstanding per identifier.
package artwork

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bodgit/romlib"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

const maxImageSize = 32 << 20

var (
	errInvalidIdentifier = errors.New("invalid identifier")
	errImageTooLarge     = errors.New("image too large")
)

// StatusError is returned when the server does not return the image
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, http.StatusText(e.StatusCode))
}

// Callback is called with the path of the cached image, or the reason it
// could not be cached
type Callback func(path string, err error)

// Cacher caches images under a directory, each named after an identifier
// such as the checksum of a game
type Cacher struct {
	writer *romlib.DirectoryWriter
	client *http.Client
	logger zerolog.Logger

	mutex    sync.Mutex
	inflight map[string][]Callback
	wg       sync.WaitGroup
}

// New returns a Cacher writing to dir, creating it if necessary
func New(dir string, options ...func(*Cacher) error) (*Cacher, error) {
	w, err := romlib.NewDirectoryWriter(dir)
	if err != nil {
		return nil, err
	}

	c := &Cacher{
		writer:   w,
		client:   http.DefaultClient,
		logger:   zerolog.Nop(),
		inflight: make(map[string][]Callback),
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Client configures the HTTP client used
func Client(client *http.Client) func(*Cacher) error {
	return func(c *Cacher) error {
		if client == nil {
			return errors.New("nil client")
		}
		c.client = client
		return nil
	}
}

// Logger configures the logger used
func Logger(logger zerolog.Logger) func(*Cacher) error {
	return func(c *Cacher) error {
		c.logger = logger
		return nil
	}
}

// Dir returns the cache directory
func (c *Cacher) Dir() string {
	return c.writer.Name()
}

func validIdentifier(id string) bool {
	return id != "" && id == filepath.Base(id) && !strings.HasPrefix(id, ".")
}

// Cached returns the path of the cached image for identifier, if any
func (c *Cacher) Cached(identifier string) (string, bool) {
	if !validIdentifier(identifier) {
		return "", false
	}
	matches, err := filepath.Glob(filepath.Join(c.Dir(), identifier+".*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// Cache fetches imageURL in the background and stores it for identifier,
// calling fn when done. If the image is already cached fn is called before
// Cache returns. If a fetch for identifier is already outstanding fn is
// called when it completes and no new request is made
func (c *Cacher) Cache(ctx context.Context, identifier, imageURL string, fn Callback) error {
	if !validIdentifier(identifier) {
		return fmt.Errorf("%w: %q", errInvalidIdentifier, identifier)
	}

	u, err := url.Parse(imageURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url %q", imageURL)
	}

	c.mutex.Lock()

	if callbacks, ok := c.inflight[identifier]; ok {
		c.inflight[identifier] = append(callbacks, fn)
		c.mutex.Unlock()
		return nil
	}

	if p, ok := c.Cached(identifier); ok {
		c.mutex.Unlock()
		if fn != nil {
			fn(p, nil)
		}
		return nil
	}

	c.inflight[identifier] = []Callback{fn}
	c.wg.Add(1)
	c.mutex.Unlock()

	go func() {
		defer c.wg.Done()

		p, err := c.fetch(ctx, identifier, u)
		if err != nil {
			c.logger.Warn().Err(err).Str("identifier", identifier).Msg("unable to cache artwork")
		} else {
			c.logger.Debug().Str("identifier", identifier).Str("path", p).Msg("cached artwork")
		}

		c.mutex.Lock()
		callbacks := c.inflight[identifier]
		delete(c.inflight, identifier)
		c.mutex.Unlock()

		for _, fn := range callbacks {
			if fn != nil {
				fn(p, err)
			}
		}
	}()

	return nil
}

// Wait blocks until every outstanding fetch has completed
func (c *Cacher) Wait() {
	c.wg.Wait()
}

func (c *Cacher) fetch(ctx context.Context, identifier string, u *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{URL: u.String(), StatusCode: resp.StatusCode}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return "", err
	}
	if len(b) > maxImageSize {
		return "", errImageTooLarge
	}

	name := identifier + extension(u, b)

	f, err := c.writer.Create(name)
	if err != nil {
		return "", err
	}

	if _, err := f.Write(b); err != nil {
		if a, ok := f.(romlib.Aborter); ok {
			_ = a.Abort()
		}
		return "", err
	}

	if err := f.Close(); err != nil {
		return "", err
	}

	return filepath.Join(c.Dir(), name), nil
}

// extension prefers what the content looks like over what the URL says
func extension(u *url.URL, b []byte) string {
	if mtype := mimetype.Detect(b); mtype.Extension() != "" && strings.HasPrefix(mtype.String(), "image/") {
		return mtype.Extension()
	}
	if ext := path.Ext(u.Path); ext != "" {
		return strings.ToLower(ext)
	}
	return ".img"
}
