/*
Package library implements the scan that finds game files under a directory,
works out which system each one belongs to, recognises BIOS files and disc
images described by cue sheets, and produces a GameRecord for every game.

A scan runs on a single goroutine and processes one file at a time. It can be
paused, resumed and cancelled from other goroutines and reports what it finds
as a stream of Events:

        w, err := library.NewWorker(store, library.StateFile("scan.toml"))
        if err != nil {
                panic(err)
        }

        events := w.Events()
        if err := w.Start(ctx, "/path/to/roms"); err != nil {
                panic(err)
        }

        for e := range events {
                if e.Type == library.EventRecord {
                        fmt.Println(e.Record.System, e.Record.Title)
                }
                if e.Type == library.EventFinished {
                        // e.Err is set if the scan failed
                        break
                }
        }

        if err := w.Wait(); err != nil {
                panic(err)
        }
*/
package library

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// State is the state of a Worker
type State int

// Worker states. A Worker starts Idle, a scan moves it to Running and it
// ends up Completed or Cancelled. A Running scan can be Paused
const (
	Idle State = iota
	Running
	Paused
	Cancelled
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Cancelled:
		return "cancelled"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrScanRunning is returned when starting a scan, or changing how
	// one works, while a scan is in progress
	ErrScanRunning = errors.New("scan already running")
	// ErrNothingToResume is returned by Resume when there is no
	// interrupted scan
	ErrNothingToResume = errors.New("nothing to resume")
)

// Worker scans directories for games
type Worker struct {
	store     Store
	catalog   Catalog
	systems   *SystemResolver
	cues      *CueResolver
	bios      *BiosRegistry
	logger    zerolog.Logger
	archives  bool
	stateFile string
	buffer    int

	mutex     sync.Mutex
	cond      *sync.Cond
	events    chan Event
	state     State
	cancelled bool
	paused    bool
	quitting  bool
	queue     []string
	stats     Stats
	resume    ResumeState
	lock      *flock.Flock
	done      chan struct{}
	err       error

	containsDrag bool
	dragged      []string
}

// NewWorker returns a new Worker identifying games with store, configured
// with any optional settings. If store also implements Catalog every game
// found is added to it
func NewWorker(store Store, options ...func(*Worker) error) (*Worker, error) {
	w := &Worker{
		store:    store,
		logger:   zerolog.Nop(),
		archives: true,
	}
	w.cond = sync.NewCond(&w.mutex)

	if c, ok := store.(Catalog); ok {
		w.catalog = c
	}

	if err := w.setOption(options...); err != nil {
		return nil, err
	}

	w.systems = NewSystemResolver(store, w.logger)
	w.cues = NewCueResolver(w.systems)

	if w.stateFile != "" {
		s, err := LoadResumeState(w.stateFile)
		if err != nil {
			return nil, err
		}
		w.resume = s
	}

	return w, nil
}

func (w *Worker) setOption(options ...func(*Worker) error) error {
	for _, option := range options {
		if err := option(w); err != nil {
			return err
		}
	}
	return nil
}

// WithCatalog configures where found games are added
func WithCatalog(c Catalog) func(*Worker) error {
	return func(w *Worker) error {
		w.catalog = c
		return nil
	}
}

// Bios configures the registry used to recognise and cache BIOS files. BIOS
// files are not recognised without one and are catalogued like any game
func Bios(b *BiosRegistry) func(*Worker) error {
	return func(w *Worker) error {
		w.bios = b
		return nil
	}
}

// SetBios configures the BIOS registry used by w. It cannot be changed
// while a scan is in progress
func (w *Worker) SetBios(b *BiosRegistry) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.running() {
		return ErrScanRunning
	}
	return w.setOption(Bios(b))
}

// Logger configures the logger used
func Logger(logger zerolog.Logger) func(*Worker) error {
	return func(w *Worker) error {
		w.logger = logger
		return nil
	}
}

// Archives configures whether games inside zip, 7z, rar, gzip and xz files
// are found
func Archives(v bool) func(*Worker) error {
	return func(w *Worker) error {
		w.archives = v
		return nil
	}
}

// SetArchives configures whether w looks inside archives. It cannot be
// changed while a scan is in progress
func (w *Worker) SetArchives(v bool) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.running() {
		return ErrScanRunning
	}
	return w.setOption(Archives(v))
}

// StateFile configures where the state of a paused or interrupted scan is
// saved. It also guards against two processes scanning at once
func StateFile(path string) func(*Worker) error {
	return func(w *Worker) error {
		w.stateFile = path
		return nil
	}
}

// EventBuffer configures how many events can be queued before the scan
// waits for the consumer
func EventBuffer(n int) func(*Worker) error {
	return func(w *Worker) error {
		if n < 0 {
			return fmt.Errorf("invalid event buffer size %d", n)
		}
		w.buffer = n
		return nil
	}
}

// Events returns the channel scan events are delivered on. No events are
// sent until this has been called, after that they must be consumed for a
// scan to make progress
func (w *Worker) Events() <-chan Event {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.events == nil {
		w.events = make(chan Event, w.buffer)
	}
	return w.events
}

// State returns the current state
func (w *Worker) State() State {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.state
}

// IsRunning reports whether a scan is in progress, including a paused one
func (w *Worker) IsRunning() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.running()
}

func (w *Worker) running() bool {
	return w.state == Running || w.state == Paused
}

// Stats returns the counters of the current or last scan
func (w *Worker) Stats() Stats {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.stats
}

// InsertPaused reports whether a pause has been requested
func (w *Worker) InsertPaused() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.paused
}

// SetInsertPaused pauses or resumes the scan. A paused scan stops before
// the next file and saves its resume state
func (w *Worker) SetInsertPaused(paused bool) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.paused = paused
	w.cond.Broadcast()
}

// InsertCancelled reports whether the scan has been cancelled
func (w *Worker) InsertCancelled() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.cancelled
}

// SetInsertCancelled cancels the scan. Queued files are discarded and no
// record is produced for the file being processed
func (w *Worker) SetInsertCancelled(cancelled bool) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.cancelled = cancelled
	if cancelled {
		w.queue = nil
	}
	w.cond.Broadcast()
}

// ResumeDirectory returns the directory of the interrupted scan, if any
func (w *Worker) ResumeDirectory() string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.resume.Directory
}

// ResumePaths returns everything the interrupted scan was scanning, which
// is more than ResumeDirectory after a drop of several files
func (w *Worker) ResumePaths() []string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return slices.Clone(w.resume.paths())
}

// ResumeInsertID returns the token of the current or interrupted scan
func (w *Worker) ResumeInsertID() string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.resume.InsertID
}

// ResumeQuitScan reports whether the interrupted scan was stopped by the
// application exiting
func (w *Worker) ResumeQuitScan() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.resume.QuitScan
}

// SetResumeQuitScan sets the flag returned by ResumeQuitScan, saving it if
// there is an interrupted scan
func (w *Worker) SetResumeQuitScan(v bool) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.resume.QuitScan = v
	if w.resume.Directory == "" {
		return nil
	}
	return w.saveLocked()
}

func (w *Worker) saveLocked() error {
	if w.stateFile == "" {
		return nil
	}
	return w.resume.Save(w.stateFile)
}

// Start runs a scan of root on a new goroutine. Use Wait to collect the
// result
func (w *Worker) Start(ctx context.Context, root string) error {
	paths := []string{root}
	if err := w.begin(paths); err != nil {
		return err
	}
	go w.scan(ctx, paths)
	return nil
}

// Resume runs the interrupted scan again on a new goroutine, keeping its
// insert ID. Use Wait to collect the result
func (w *Worker) Resume(ctx context.Context) error {
	paths := w.ResumePaths()
	if len(paths) == 0 {
		return ErrNothingToResume
	}
	if err := w.begin(paths); err != nil {
		return err
	}
	go w.scan(ctx, paths)
	return nil
}

// Wait blocks until the current scan has finished and returns its error
func (w *Worker) Wait() error {
	w.mutex.Lock()
	done := w.done
	w.mutex.Unlock()

	if done == nil {
		return nil
	}
	<-done

	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.err
}

// FindGameFiles scans root on the calling goroutine and returns once every
// file has been processed or the scan has been cancelled
func (w *Worker) FindGameFiles(ctx context.Context, root string) error {
	paths := []string{root}
	if err := w.begin(paths); err != nil {
		return err
	}
	return w.scan(ctx, paths)
}

// Shutdown stops a scan in progress, saving its state so it can be resumed
// after the application restarts, and waits for it to stop
func (w *Worker) Shutdown() error {
	w.mutex.Lock()
	if !w.running() {
		w.mutex.Unlock()
		return nil
	}
	w.quitting = true
	w.resume.QuitScan = true
	err := w.saveLocked()
	w.cancelled = true
	w.queue = nil
	w.cond.Broadcast()
	done := w.done
	w.mutex.Unlock()

	<-done

	return err
}

// begin moves an idle worker to Running. A scan of the same paths as the
// interrupted one carries on with its insert ID
func (w *Worker) begin(paths []string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.running() {
		return ErrScanRunning
	}

	if w.stateFile != "" {
		lock, err := lockScan(w.stateFile)
		if err != nil {
			return err
		}
		w.lock = lock
	}

	w.state = Running
	w.cancelled = false
	w.paused = false
	w.quitting = false
	w.queue = nil
	w.stats = Stats{}
	w.err = nil
	w.done = make(chan struct{})

	if !slices.Equal(w.resume.paths(), paths) || w.resume.InsertID == "" {
		w.resume = newResumeState(paths)
	}
	w.resume.QuitScan = false

	return nil
}

// end records the outcome of a scan and releases anything begin acquired
func (w *Worker) end(err error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	switch {
	case err != nil:
		w.state = Idle
	case w.cancelled:
		w.state = Cancelled
	default:
		w.state = Completed
	}

	if !w.quitting && w.state != Idle {
		w.resume = ResumeState{}
		if w.stateFile != "" {
			if e := ClearResumeState(w.stateFile); e != nil {
				w.logger.Warn().Err(e).Msg("unable to clear resume state")
			}
		}
	}

	if w.lock != nil {
		if e := w.lock.Unlock(); e != nil {
			w.logger.Warn().Err(e).Msg("unable to release scan lock")
		}
		w.lock = nil
	}

	w.err = err
	close(w.done)
}
