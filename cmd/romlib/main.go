package main

import (
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/bodgit/romlib"
	"github.com/bodgit/romlib/artwork"
	"github.com/bodgit/romlib/config"
	"github.com/bodgit/romlib/dat"
	"github.com/bodgit/romlib/launcher"
	"github.com/bodgit/romlib/library"
	"github.com/bodgit/romlib/store"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

func newLogger(c *cli.Context) zerolog.Logger {
	if !c.Bool("verbose") {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
}

func terminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newTable() *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetAutoWrapText(false)
	return table
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, _, err := config.Load(c.Path("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// open loads the configuration and opens the database it names
func open(c *cli.Context) (*config.Config, *store.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	s, err := store.Open(cfg.Paths.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, s, nil
}

func newWorker(c *cli.Context, cfg *config.Config, s *store.Store, logger zerolog.Logger) (*library.Worker, error) {
	bios, err := library.NewBiosRegistry(cfg.Paths.Bios, s)
	if err != nil {
		return nil, err
	}

	return library.NewWorker(s,
		library.Bios(bios),
		library.Logger(logger),
		library.Archives(cfg.Scan.Archives && !c.Bool("no-archives")),
		library.StateFile(cfg.StateFile()),
		library.EventBuffer(cfg.Scan.EventBuffer),
	)
}

type reporter struct {
	ctx      context.Context
	progress bool
	bar      *progressbar.ProgressBar
	cacher   *artwork.Cacher
	logger   zerolog.Logger
}

func (r *reporter) handle(e library.Event) {
	switch e.Type {
	case library.EventStarted:
		if r.progress {
			r.bar = progressbar.NewOptions(e.Stats.Files,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("Scanning"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
	case library.EventRecord:
		if r.bar != nil {
			_ = r.bar.Clear()
		}
		fmt.Printf("%s\t%s\t%s\n", e.Record.System, e.Record.Title, e.Record.Path)
		if r.cacher != nil && e.Record.ArtworkURL != "" {
			if err := r.cacher.Cache(r.ctx, e.Record.Checksum, e.Record.ArtworkURL, nil); err != nil {
				r.logger.Warn().Err(err).Str("url", e.Record.ArtworkURL).Msg("unable to cache artwork")
			}
		}
	case library.EventProgress:
		if r.bar != nil {
			_ = r.bar.Set(e.Stats.Processed)
		}
	case library.EventFinished:
		if r.bar != nil {
			_ = r.bar.Finish()
		}
	}
}

func runScan(c *cli.Context, cfg *config.Config, w *library.Worker, start func(context.Context) error, logger zerolog.Logger) error {
	r := &reporter{
		ctx:      c.Context,
		progress: terminal(os.Stderr) && !c.Bool("verbose"),
		logger:   logger,
	}

	if c.Bool("artwork") {
		var err error
		if r.cacher, err = artwork.New(cfg.Paths.Artwork, artwork.Logger(logger)); err != nil {
			return err
		}
	}

	interrupt, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := w.Events()

	began := time.Now()
	if err := start(context.Background()); err != nil {
		return err
	}

	// An interrupted scan is saved so it can be resumed
	go func() {
		<-interrupt.Done()
		if err := w.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("unable to save scan state")
		}
	}()

	errc := make(chan error, 1)
	go func() {
		errc <- w.Wait()
	}()

	var err error
loop:
	for {
		select {
		case e := <-events:
			r.handle(e)
		case err = <-errc:
			break loop
		}
	}
	for len(events) > 0 {
		r.handle(<-events)
	}

	if r.cacher != nil {
		r.cacher.Wait()
	}

	if err != nil {
		return err
	}

	stats := w.Stats()
	fmt.Fprintf(os.Stderr, "Added %s games (%s duplicates, %s skipped, %s failed, %s BIOS files), read %s in %s\n",
		humanize.Comma(int64(stats.Added)),
		humanize.Comma(int64(stats.Duplicates)),
		humanize.Comma(int64(stats.Skipped)),
		humanize.Comma(int64(stats.Failed)),
		humanize.Comma(int64(stats.Bios)),
		humanize.IBytes(stats.BytesRead),
		time.Since(began).Round(time.Millisecond),
	)

	if w.ResumeQuitScan() && w.ResumeDirectory() != "" {
		fmt.Fprintf(os.Stderr, "Scan of %s interrupted, run \"%s resume\" to continue\n", w.ResumeDirectory(), c.App.Name)
	}

	return nil
}

func scan(c *cli.Context) error {
	if c.NArg() != 1 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	cfg, s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	logger := newLogger(c)

	w, err := newWorker(c, cfg, s, logger)
	if err != nil {
		return err
	}

	return runScan(c, cfg, w, func(ctx context.Context) error {
		return w.Start(ctx, c.Args().First())
	}, logger)
}

func resume(c *cli.Context) error {
	cfg, s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	logger := newLogger(c)

	w, err := newWorker(c, cfg, s, logger)
	if err != nil {
		return err
	}

	if len(w.ResumePaths()) == 0 {
		return library.ErrNothingToResume
	}

	logger.Info().Strs("paths", w.ResumePaths()).Str("id", w.ResumeInsertID()).Bool("quit", w.ResumeQuitScan()).Msg("resuming scan")

	return runScan(c, cfg, w, w.Resume, logger)
}

func info(c *cli.Context) error {
	if c.NArg() < 1 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	_, s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	logger := newLogger(c)
	resolver := library.NewSystemResolver(s, logger)

	for i, path := range c.Args().Slice() {
		reader, err := romlib.NewReader(path)
		if err != nil {
			return err
		}

		if i > 0 {
			fmt.Println()
		}

		fmt.Println(path)
		fmt.Println()

		table := newTable()
		table.SetHeader([]string{"ROM", "System", "Size", "Header", "CRC32", "MD5", "SHA1"})

		files := reader.Files()
		sort.Strings(files)

		for _, f := range files {
			system := "-"
			var header uint64

			res, err := resolver.Resolve(c.Context, reader, f)
			if err != nil {
				logger.Debug().Err(err).Str("file", f).Msg("unable to identify")
			} else {
				system, header = res.System, res.HeaderSize
			}

			size, err := reader.Size(f)
			if err != nil {
				reader.Close()
				return err
			}

			sums, err := romlib.ChecksumReader(reader, f, header)
			if err != nil {
				reader.Close()
				return err
			}

			table.Append([]string{f, system, strconv.FormatUint(size-header, 10), strconv.FormatUint(header, 10), sums.String(romlib.CRC32), sums.String(romlib.MD5), sums.String(romlib.SHA1)})
		}

		table.Render()

		reader.Close()
	}

	return nil
}

func importDat(c *cli.Context) error {
	if c.NArg() < 2 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	_, s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	system := c.Args().First()
	for _, path := range c.Args().Tail() {
		f, err := dat.Load(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		n, err := s.ImportDat(c.Context, system, f)
		if err != nil {
			return err
		}

		fmt.Printf("Imported %s checksums for %s from %s\n", humanize.Comma(int64(n)), system, path)
	}

	return nil
}

func reference(c *cli.Context) error {
	if c.NArg() != 1 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	_, s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	ref, err := store.LoadReference(c.Args().First())
	if err != nil {
		return err
	}

	if err := s.ImportReference(c.Context, ref); err != nil {
		return err
	}

	fmt.Printf("Imported %d systems, %d headers and %d BIOS files\n", len(ref.Systems), len(ref.Headers), len(ref.Bios))

	return nil
}

func missing(c *cli.Context) error {
	if c.NArg() != 2 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	_, s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	f, err := dat.Load(c.Args().Get(1))
	if err != nil {
		return err
	}

	have, err := s.GameChecksums(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	f.Match(romlib.SHA1, have)

	b, err := xml.MarshalIndent(f, "", "\t")
	if err != nil {
		return err
	}

	if len(b) > 0 {
		// Need to add a final newline if there is some XML
		if _, err = os.Stdout.Write(append(b, []byte("\n")...)); err != nil {
			return err
		}
	}

	return nil
}

func list(c *cli.Context) error {
	_, s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	games, err := s.Games(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	table := newTable()
	table.SetHeader([]string{"System", "Title", "Region", "Size", "SHA1", "Path"})
	for _, g := range games {
		table.Append([]string{g.System, g.Title, g.Region, humanize.IBytes(g.Size), g.Checksum, g.Path})
	}
	table.Render()

	return nil
}

func systems(c *cli.Context) error {
	_, s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	known, err := s.Systems(c.Context)
	if err != nil {
		return err
	}

	table := newTable()
	table.SetHeader([]string{"System", "Core", "Header"})
	for _, system := range known {
		header := system.HeaderRule
		if header == "" && romlib.HasHeader(system.Name) {
			header = system.Name
		}
		table.Append([]string{system.Name, system.DefaultCore, header})
	}
	table.Render()

	return nil
}

func newBiosRegistry(c *cli.Context) (*library.BiosRegistry, *store.Store, error) {
	cfg, s, err := open(c)
	if err != nil {
		return nil, nil, err
	}

	b, err := library.NewBiosRegistry(cfg.Paths.Bios, s)
	if err != nil {
		s.Close()
		return nil, nil, err
	}

	return b, s, nil
}

func biosList(c *cli.Context) error {
	b, s, err := newBiosRegistry(c)
	if err != nil {
		return err
	}
	defer s.Close()

	names, err := b.Cached()
	if err != nil {
		return err
	}

	for _, name := range names {
		fmt.Println(name)
	}

	return nil
}

func biosExport(c *cli.Context) error {
	if c.NArg() != 1 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	b, s, err := newBiosRegistry(c)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := b.Export(c.Args().First())
	if err != nil {
		return err
	}

	fmt.Printf("Exported %d BIOS files to %s\n", n, c.Args().First())

	return nil
}

func core(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	cfg, s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	l, err := launcher.New(s, cfg.Paths.Cores, launcher.Logger(newLogger(c)))
	if err != nil {
		return err
	}

	path, err := l.DefaultCore(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	fmt.Println(path)

	if c.NArg() == 2 {
		return l.VerifyGame(path, c.Args().Get(1))
	}

	return nil
}

func fetchArtwork(c *cli.Context) error {
	if c.NArg() != 2 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	cacher, err := artwork.New(cfg.Paths.Artwork, artwork.Logger(newLogger(c)))
	if err != nil {
		return err
	}

	var (
		path   string
		result error
	)
	if err := cacher.Cache(c.Context, c.Args().First(), c.Args().Get(1), func(p string, err error) {
		path, result = p, err
	}); err != nil {
		return err
	}
	cacher.Wait()

	if result != nil {
		return result
	}

	fmt.Println(path)

	return nil
}

func main() {
	app := cli.NewApp()

	app.Name = "romlib"
	app.Usage = "Game library management utility"
	app.Version = fmt.Sprintf("%s, commit %s, built at %s", version, commit, date)

	app.Flags = []cli.Flag{
		&cli.PathFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to configuration file",
			EnvVars: []string{"ROMLIB_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "increase verbosity",
		},
	}

	artworkFlag := &cli.BoolFlag{
		Name:    "artwork",
		Aliases: []string{"a"},
		Usage:   "cache artwork for games found",
	}

	app.Commands = []*cli.Command{
		{
			Name:        "scan",
			Usage:       "Scan for games",
			Description: "Find and identify every game under a directory and add it to the library",
			Action:      scan,
			ArgsUsage:   "DIRECTORY",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "no-archives",
					Usage: "don't look inside archives",
				},
				artworkFlag,
			},
		},
		{
			Name:        "resume",
			Usage:       "Resume an interrupted scan",
			Description: "Continue the scan that was paused or interrupted, skipping games already added",
			Action:      resume,
			Flags: []cli.Flag{
				artworkFlag,
			},
		},
		{
			Name:        "info",
			Usage:       "ROM information",
			Description: "",
			Action:      info,
			ArgsUsage:   "FILE...",
		},
		{
			Name:      "list",
			Usage:     "List catalogued games",
			Action:    list,
			ArgsUsage: "[SYSTEM]",
		},
		{
			Name:   "systems",
			Usage:  "List known systems",
			Action: systems,
		},
		{
			Name:        "reference",
			Usage:       "Import reference data",
			Description: "Import systems, extensions, headers and BIOS files from a TOML file",
			Action:      reference,
			ArgsUsage:   "FILE",
		},
		{
			Name:        "import-dat",
			Usage:       "Import checksums from dat files",
			Description: "Add the ROMs listed in Logiqx XML dat files to the checksum table of a system",
			Action:      importDat,
			ArgsUsage:   "SYSTEM DAT...",
		},
		{
			Name:        "missing",
			Usage:       "Report missing games",
			Description: "Write the games in a dat file that are not in the library as a dat file",
			Action:      missing,
			ArgsUsage:   "SYSTEM DAT",
		},
		{
			Name:  "bios",
			Usage: "Manage cached BIOS files",
			Subcommands: []*cli.Command{
				{
					Name:   "list",
					Usage:  "List cached BIOS files",
					Action: biosList,
				},
				{
					Name:      "export",
					Usage:     "Export cached BIOS files as a Torrentzip archive",
					Action:    biosExport,
					ArgsUsage: "FILE",
				},
			},
		},
		{
			Name:        "core",
			Usage:       "Show the default core",
			Description: "Print the path of the default core of a system, optionally checking a game can be launched with it",
			Action:      core,
			ArgsUsage:   "SYSTEM [GAME]",
		},
		{
			Name:      "artwork",
			Usage:     "Cache artwork",
			Action:    fetchArtwork,
			ArgsUsage: "IDENTIFIER URL",
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
