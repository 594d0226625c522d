// Package main is the uqoind binary: it wires appdata.AppData together
// with the sync and mine task supervisors and the HTTP API server, the
// same way the teacher's cmd/kcn/main.go wires node.Node's subsystems
// together behind a gopkg.in/urfave/cli.v1 App. Flags overlay the
// environment variables config.FromEnv reads, so a deployment can use
// either (or both, with the flag winning).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/uqoin-network/uqoin-node/api"
	"github.com/uqoin-network/uqoin-node/appdata"
	"github.com/uqoin-network/uqoin-node/common"
	"github.com/uqoin-network/uqoin-node/config"
	internallog "github.com/uqoin-network/uqoin-node/internal/log"
	"github.com/uqoin-network/uqoin-node/mine"
	"github.com/uqoin-network/uqoin-node/sync"
	"github.com/uqoin-network/uqoin-node/tasksup"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var logger = internallog.NewModuleLogger(internallog.Main)

var (
	dataPathFlag = cli.StringFlag{Name: "datapath", Usage: "data directory (overrides DATA_PATH)"}
	hostFlag     = cli.StringFlag{Name: "host", Usage: "HTTP bind host (overrides HOST)"}
	portFlag     = cli.IntFlag{Name: "port", Usage: "HTTP bind port (overrides PORT)"}
	nodesFlag    = cli.StringFlag{Name: "nodes", Usage: "whitespace or comma separated peer URLs (overrides NODES)"}
	privKeyFlag  = cli.StringFlag{Name: "privatekey", Usage: "hex-encoded validator private key (overrides PRIVATE_KEY)"}
	logLevelFlag = cli.StringFlag{Name: "loglevel", Usage: "trace|debug|info|warn|error|crit (overrides LOG_LEVEL)"}
)

func main() {
	app := cli.NewApp()
	app.Name = "uqoind"
	app.Usage = "the uqoin proof-of-work node"
	app.Version = Version
	app.Flags = []cli.Flag{dataPathFlag, hostFlag, portFlag, nodesFlag, privKeyFlag, logLevelFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	overlayFlags(ctx, &cfg)

	internallog.SetLevel(cfg.LogLevel)

	a, err := appdata.New(cfg)
	if err != nil {
		return fmt.Errorf("open appdata: %w", err)
	}
	defer a.Close()

	logger.Info("node starting", "data_path", cfg.DataPath, "head_bix", a.State.GetLastBlockInfo().Bix)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncSup := sync.New(a)
	go tasksup.Supervise(runCtx, "sync", syncSup.Run)

	if !cfg.PrivateKey.IsZero() {
		mineSup := mine.New(a)
		go tasksup.Supervise(runCtx, "mine", mineSup.Run)
	} else {
		logger.Info("no PRIVATE_KEY configured, mining disabled (lite mode)")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: api.New(a, Version).Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("api server: %w", err)
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown did not complete cleanly", "err", err)
	}
	return nil
}

func overlayFlags(ctx *cli.Context, cfg *config.Config) {
	if v := ctx.String(dataPathFlag.Name); v != "" {
		cfg.DataPath = v
	}
	if v := ctx.String(hostFlag.Name); v != "" {
		cfg.Host = v
	}
	if v := ctx.Int(portFlag.Name); v != 0 {
		cfg.Port = uint16(v)
	}
	if v := ctx.String(nodesFlag.Name); v != "" {
		cfg.Nodes = strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})
	}
	if v := ctx.String(privKeyFlag.Name); v != "" {
		cfg.PrivateKey = common.FromHex(v)
	}
	if v := ctx.String(logLevelFlag.Name); v != "" {
		cfg.LogLevel = v
	}
}
