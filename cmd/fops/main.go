package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/quarrydev/fileops/backend"
	"github.com/quarrydev/fileops/config"
	"github.com/quarrydev/fileops/controller"
	"github.com/quarrydev/fileops/engine"
	"github.com/quarrydev/fileops/pathaddr"
	"github.com/quarrydev/fileops/profiles"
	"github.com/quarrydev/fileops/trash"
	"github.com/quarrydev/fileops/ui"
	"github.com/quarrydev/fileops/vfs"
)

func main() {
	var (
		op           string
		dest         string
		configPath   string
		profileName  string
		saveProfile  string
		listProfiles bool
		noTUI        bool
		logLevel     string
	)

	flag.StringVar(&op, "op", "copy", "operation: copy, move, delete, trash, extract")
	flag.StringVar(&dest, "dest", "", "destination path or URI (copy, move, extract)")
	flag.StringVar(&configPath, "config", "", "config file path (default: user config dir)")
	flag.StringVar(&profileName, "profile", "", "use a saved connection profile as the destination")
	flag.StringVar(&saveProfile, "save-profile", "", "save -dest as a named profile and exit")
	flag.BoolVar(&listProfiles, "list-profiles", false, "list saved connection profiles and exit")
	flag.BoolVar(&noTUI, "no-tui", false, "plain output, answer prompts on stdin")
	flag.StringVar(&logLevel, "log-level", "", "override configured log level")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logOut := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	log := zerolog.New(logOut).With().Timestamp().Logger().Level(level)
	if !noTUI {
		// Keep the alternate screen clean; only warnings and errors
		// survive into the scrollback.
		if level < zerolog.WarnLevel {
			log = log.Level(zerolog.WarnLevel)
		}
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.StateDir).Msg("cannot create state directory")
	}
	store, err := profiles.Open(filepath.Join(cfg.StateDir, "profiles.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open profile store")
	}
	defer store.Close()

	if listProfiles {
		printProfiles(store)
		return
	}
	if saveProfile != "" {
		if err := saveProfileFromDest(store, saveProfile, dest); err != nil {
			log.Fatal().Err(err).Msg("cannot save profile")
		}
		fmt.Printf("saved profile %q\n", saveProfile)
		return
	}

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	req, err := buildRequest(store, op, dest, profileName, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		usage()
		os.Exit(2)
	}

	ctrl, session, err := buildController(cfg, req, noTUI, log)
	if err != nil {
		log.Fatal().Err(err).Msg("setup failed")
	}

	for _, a := range append(append([]pathaddr.Address{}, req.Sources...), req.Dest) {
		if a.IsRemote() {
			session.AddRecentHost(a.HostKey())
		}
	}

	if noTUI {
		runHeadless(ctrl, req, time.Duration(cfg.PollInterval), log)
		return
	}
	runTUI(ctrl, req, time.Duration(cfg.PollInterval), log)
}

// buildController wires the engine stack from configuration. It returns
// the session so callers can record recent hosts.
func buildController(cfg config.Config, req engine.Request, noTUI bool, log zerolog.Logger) (*controller.Controller, *controller.Session, error) {
	var bin *trash.Bin
	var err error
	if cfg.TrashDir != "" {
		bin, err = trash.New(cfg.TrashDir)
	} else {
		bin, err = trash.Default()
	}
	if err != nil {
		// Trash stays unavailable; the engine raises the trash-failed
		// prompt instead of failing outright.
		log.Warn().Err(err).Msg("trash unavailable")
		bin = nil
	}

	reg := vfs.NewRegistry(vfs.NewLocalFS(bin))
	if needsScheme(req, "s3") {
		s3fs, err := vfs.NewS3FS(context.Background())
		if err != nil {
			return nil, nil, fmt.Errorf("s3 setup: %w", err)
		}
		reg.Register("s3", s3fs)
	}

	session := controller.NewSession()
	pool := backend.NewBufferPool(cfg.ChunkSize)
	eng := engine.New(reg, pool, log)
	eng.Auth = session.Credentials().Wrap(anonymousCredentials)

	var handler controller.DecisionHandler
	if noTUI {
		handler = newStdinHandler()
	} else {
		handler = uiHandler
	}
	ctrl := controller.New(eng, handler, time.Duration(cfg.PollInterval), log)
	return ctrl, session, nil
}

// uiHandler is bound to the bubbletea program in runTUI. It lives at
// package scope so buildController can hand it to the controller before
// the program exists.
var uiHandler = ui.NewHandler()

func runTUI(ctrl *controller.Controller, req engine.Request, interval time.Duration, log zerolog.Logger) {
	model := ui.New(ctrl, interval)
	program := tea.NewProgram(model)
	uiHandler.Bind(program)

	if _, err := ctrl.Submit(req); err != nil {
		log.Fatal().Err(err).Msg("cannot start operation")
	}

	if _, err := program.Run(); err != nil {
		log.Fatal().Err(err).Msg("ui failed")
	}
}

func runHeadless(ctrl *controller.Controller, req engine.Request, interval time.Duration, log zerolog.Logger) {
	id, err := ctrl.Submit(req)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot start operation")
	}
	log.Info().Uint64("id", id).Str("op", req.Description()).Msg("started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn().Msg("canceling")
		ctrl.ClearQueue()
		ctrl.CancelActive()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var lastLine string
	for range ticker.C {
		if ctrl.Idle() {
			break
		}
		if m := ctrl.Poll(); m != nil {
			line := headlessStatus(m)
			if line != lastLine {
				fmt.Fprintln(os.Stderr, line)
				lastLine = line
			}
		}
	}
	log.Info().Msg("done")
}

func buildRequest(store profiles.Store, op, dest, profileName string, args []string) (engine.Request, error) {
	destAddr, err := resolveDest(store, dest, profileName)
	if err != nil {
		return engine.Request{}, err
	}

	switch op {
	case "copy", "move":
		sources, err := parseSources(args)
		if err != nil {
			return engine.Request{}, err
		}
		return engine.Request{
			Op:      engine.OpCopyMove,
			Move:    op == "move",
			Sources: sources,
			Dest:    destAddr,
		}, nil
	case "delete":
		sources, err := parseSources(args)
		if err != nil {
			return engine.Request{}, err
		}
		return engine.Request{Op: engine.OpDelete, Sources: sources}, nil
	case "trash":
		sources, err := parseSources(args)
		if err != nil {
			return engine.Request{}, err
		}
		return engine.Request{Op: engine.OpTrash, Sources: sources}, nil
	case "extract":
		return engine.Request{Op: engine.OpExtract, Argv: args, Dest: destAddr}, nil
	default:
		return engine.Request{}, fmt.Errorf("unknown operation %q", op)
	}
}

func resolveDest(store profiles.Store, dest, profileName string) (pathaddr.Address, error) {
	if profileName == "" {
		if dest == "" {
			return pathaddr.Address{}, nil
		}
		return pathaddr.Parse(dest), nil
	}

	list, err := store.List()
	if err != nil {
		return pathaddr.Address{}, err
	}
	for _, p := range list {
		if p.Name != profileName {
			continue
		}
		addr, err := p.Address()
		if err != nil {
			return pathaddr.Address{}, fmt.Errorf("profile %q: %w", profileName, err)
		}
		for _, seg := range strings.Split(dest, "/") {
			if seg != "" {
				addr = addr.Join(seg)
			}
		}
		return addr, nil
	}
	return pathaddr.Address{}, fmt.Errorf("%w: %q", profiles.ErrProfileNotFound, profileName)
}

func parseSources(args []string) ([]pathaddr.Address, error) {
	sources := make([]pathaddr.Address, 0, len(args))
	for _, a := range args {
		addr := pathaddr.Parse(a)
		if err := addr.Concrete(); err != nil {
			return nil, fmt.Errorf("source %q: %w", a, err)
		}
		sources = append(sources, addr)
	}
	return sources, nil
}

func saveProfileFromDest(store profiles.Store, name, dest string) error {
	if dest == "" {
		return fmt.Errorf("-save-profile needs -dest")
	}
	addr := pathaddr.Parse(dest)
	if !addr.IsRemote() {
		return fmt.Errorf("profiles are for remote locations, got %q", dest)
	}
	if err := addr.Concrete(); err != nil {
		return err
	}
	p := profiles.FromAddress(name, addr)
	return store.Save(&p)
}

func printProfiles(store profiles.Store) {
	list, err := store.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list profiles: %v\n", err)
		os.Exit(1)
	}
	if len(list) == 0 {
		fmt.Println("no profiles saved")
		return
	}
	for _, p := range list {
		addr, err := p.Address()
		if err != nil {
			fmt.Printf("%-20s (invalid: %v)\n", p.Name, err)
			continue
		}
		fmt.Printf("%-20s %s\n", p.Name, addr)
	}
}

func needsScheme(req engine.Request, scheme string) bool {
	for _, s := range req.Sources {
		if s.Scheme() == scheme {
			return true
		}
	}
	return req.Dest.Scheme() == scheme
}

func anonymousCredentials(ctx context.Context, addr pathaddr.Address) (vfs.Credentials, bool) {
	return vfs.Credentials{Anonymous: true}, true
}

func usage() {
	fmt.Fprintf(os.Stderr, `fops - queued file operations

Usage:
  fops -op copy  -dest DIR SOURCE...
  fops -op move  -dest DIR SOURCE...
  fops -op delete SOURCE...
  fops -op trash  SOURCE...
  fops -op extract -dest DIR COMMAND [ARG...]
  fops -list-profiles
  fops -save-profile NAME -dest smb://host/share

SOURCE and DIR are local paths or URIs (for example s3://bucket/key).
Saved profiles stand in for the destination with -profile NAME.

Examples:
  fops -op copy -dest /backup ./photos ./notes.txt
  fops -op move -dest s3://bucket/archive report.pdf
  fops -op trash old-builds/
  fops -op extract -dest ./out tar -xf bundle.tar.gz

Flags:
`)
	flag.PrintDefaults()
}
