package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	"github.com/gregemax/tycoon/client"
)

var (
	datadir      = flag.String("datadir", "", "directory for config, logs and the effect journal")
	backendURL   = flag.String("backend", "", "backend base URL")
	chainURL     = flag.String("chain", "", "chain gateway base URL")
	pushURL      = flag.String("push", "", "push websocket URL")
	bankContract = flag.String("bank", "", "bank contract address (stake spender)")
	privKey      = flag.String("privkey", "", "wallet private key hex")
	guestName    = flag.String("guest", "", "guest display name (free games only)")
	username     = flag.String("username", "", "display name for joins")
	gameCode     = flag.String("code", "", "game code to open at startup")
)

func main() {
	flag.Parse()

	cfg, err := client.LoadAppConfig(*datadir, client.ConfigOverrides{
		BackendURL:   *backendURL,
		ChainURL:     *chainURL,
		PushURL:      *pushURL,
		BankContract: *bankContract,
		PrivKeyHex:   *privKey,
		GuestName:    *guestName,
		Username:     *username,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// The TUI owns the terminal; logs go to a file in the data dir.
	logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "tycoon.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	log := slog.NewBackend(logFile).Logger("TYCN")
	if lvl, ok := slog.LevelFromString(cfg.DebugLevel); ok {
		log.SetLevel(lvl)
	}

	cl, err := client.New(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
	defer cl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := newAppstate(ctx, cancel, cl, cfg, log, *gameCode)
	program := tea.NewProgram(state, tea.WithAltScreen())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := cl.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer cancel()
		_, err := program.Run()
		return err
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "tycoon: %v\n", err)
		os.Exit(1)
	}
}
