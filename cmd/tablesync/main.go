// Command tablesync is a terminal client for a shared card table.
package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"go.uber.org/zap"

	"github.com/DoyleJ11/cardtable-sync/internal/config"
	"github.com/DoyleJ11/cardtable-sync/internal/conn"
	"github.com/DoyleJ11/cardtable-sync/internal/discovery"
	"github.com/DoyleJ11/cardtable-sync/internal/logging"
	"github.com/DoyleJ11/cardtable-sync/internal/prefs"
	"github.com/DoyleJ11/cardtable-sync/internal/session"
)

func main() {
	os.Exit(start(os.Args[1:]))
}

// start runs the client and returns the process exit code. Deferred cleanup,
// the log flush included, has run by the time it returns.
func start(args []string) int {
	if err := config.Load(); err != nil {
		pterm.Error.Println(err)
		return 1
	}
	cfg, err := config.LoadClient()
	if err != nil {
		pterm.Error.Println(err)
		return 1
	}
	if len(args) > 0 {
		cfg.Room = args[0]
	}

	dir := filepath.Dir(cfg.PrefsPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		pterm.Error.Println(err)
		return 1
	}
	logger, err := logging.ToFile(cfg.LogLevel, filepath.Join(dir, "tablesync.log"))
	if err != nil {
		pterm.Error.Println(err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("tablesync stopped", zap.Error(err))
		pterm.Error.Println(err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Client, logger *zap.Logger) error {
	p, err := prefs.Open(cfg.PrefsPath)
	if err != nil {
		return err
	}

	if cfg.Discover {
		spinner, _ := pterm.DefaultSpinner.Start("Looking for an authority on the local network...")
		found, err := discoverAuthority(ctx)
		if err != nil {
			spinner.Fail(err.Error())
			_ = p.Close()
			return err
		}
		spinner.Success("Found " + found.Instance)
		cfg.AuthorityURL = found.URL()
	}

	m := conn.New(conn.Config{
		BaseURL:           cfg.AuthorityURL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
	}, logger.Named("conn"))

	scfg := session.DefaultConfig()
	if cfg.Alias != "" {
		scfg.Alias = cfg.Alias
	}
	scfg.FlipDelay = cfg.FlipDelay
	scfg.DriftInterval = cfg.DriftInterval
	s := session.New(scfg, m, p, logger.Named("session"))
	defer s.Close()

	c := &cli{s: s, prefs: p}
	go c.watch(ctx)

	room := cfg.Room
	if room == "" {
		room, _ = pterm.DefaultInteractiveTextInput.WithDefaultText("Room code").Show()
	}
	if strings.TrimSpace(room) != "" {
		if err := s.Join(ctx, room); err != nil {
			return err
		}
	}
	pterm.Info.Println("Type 'help' for commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := c.exec(ctx, line)
			if err != nil {
				pterm.Error.Println(err)
			}
			if quit {
				return nil
			}
		}
	}
}

func discoverAuthority(ctx context.Context) (discovery.Authority, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return discovery.First(ctx)
}
