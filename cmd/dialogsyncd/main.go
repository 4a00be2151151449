package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/quickblox/dialogsync/internal/config"
	"github.com/quickblox/dialogsync/internal/daemon"
	"github.com/quickblox/dialogsync/internal/session"
	"go.uber.org/fx"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	serverFlag := flag.String("server", "", "backend URL (overrides config)")
	tokenFlag := flag.String("token", "", "auth token (overrides config)")
	flag.Parse()

	account := session.Resolve(*accountFlag)
	if err := session.ValidateName(account); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		cfg = &config.Config{PageSize: config.DefaultPageSize, InsertPacingMs: config.DefaultInsertPacingMs}
	}
	if *serverFlag != "" {
		cfg.ServerURL = *serverFlag
	}
	if *tokenFlag != "" {
		cfg.Token = *tokenFlag
	}
	if cfg.ServerURL == "" {
		fmt.Fprintln(os.Stderr, "error: no server URL; pass --server or set server_url in config.toml")
		os.Exit(1)
	}
	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "error: no auth token; pass --token or set token in config.toml")
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			AccountName:  account,
			ServerURL:    cfg.ServerURL,
			Token:        cfg.Token,
			PageSize:     cfg.PageSize,
			InsertPacing: time.Duration(cfg.InsertPacingMs) * time.Millisecond,
		}),
	)

	app.Run()
}
