package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/12jason0/DoNa-sub000/internal/bridge"
	"github.com/12jason0/DoNa-sub000/internal/config"
	"github.com/12jason0/DoNa-sub000/internal/handlers"
)

var version = "dev"

func main() {
	cfg := config.Load()
	args := os.Args[1:]

	if len(args) > 0 {
		switch args[0] {
		case "--version", "-v":
			fmt.Printf("donashell %s\n", version)
			os.Exit(0)
		case "help", "--help", "-h":
			printHelp()
			os.Exit(0)
		case "config":
			config.HandleConfigCommand(cfg)
			os.Exit(0)
		case "open":
			if err := config.EnsureControlToken(cfg); err != nil {
				fatal("%v", err)
			}
			handleOpenCommand(cfg, args[1:])
			os.Exit(0)
		}
	}

	setLogLevel(os.Getenv("DONA_LOG_LEVEL"))
	if err := config.EnsureControlToken(cfg); err != nil {
		slog.Error("donashell", "err", err)
		os.Exit(1)
	}

	launch := cfg.LaunchURI
	if len(args) > 0 {
		launch = args[0]
	}
	// the OS starts a new process for every link it hands us
	if launch != "" && forwardToRunning(cfg, launch) {
		return
	}

	if err := run(cfg, launch); err != nil {
		slog.Error("donashell", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.RuntimeConfig, launch string) error {
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if cfg.CdpURL == "" {
		if err := prepareProfileDir(cfg.ProfileDir); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, bridge.NewDesktopPlatform(slices.Concat(cfg.NativeSchemes, []string{"market"})...))
	if err != nil {
		return err
	}
	go a.ctrl.Run(ctx)

	if err := a.host.Start(ctx, a.ctrl.LaunchURL(launch)); err != nil {
		cancel()
		a.close()
		return fmt.Errorf("start surface: %w", err)
	}
	go a.checkSession(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	shutdownOnce := &sync.Once{}
	doShutdown := func() {
		shutdownOnce.Do(func() {
			slog.Info("shutting down")
			sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer scancel()
			if err := srv.Shutdown(sctx); err != nil {
				slog.Warn("server shutdown", "err", err)
			}
		})
	}
	srv.Handler = handlers.New(a.ctrl, cfg, version).Router(doShutdown)

	setupSignalHandler(doShutdown, func() {
		cancel()
		a.host.Shutdown()
	})

	// closing the window ends the shell
	go func() {
		<-a.host.Done()
		doShutdown()
	}()

	slog.Info("donashell ready",
		"addr", cfg.ListenAddr(),
		"origin", cfg.AppOrigin,
		"store", cfg.StoreDriver,
		"purchases", cfg.PurchaseProvider,
	)
	slog.Info("control api auth enabled", "tokenFile", cfg.ControlTokenFile())

	serveErr := srv.ListenAndServe()
	cancel()
	a.host.Shutdown()
	a.close()
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("control api: %w", serveErr)
	}
	return nil
}

func setupSignalHandler(shutdownFn func(), forceFn func()) {
	go func() {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		go shutdownFn()
		<-sig
		slog.Warn("force shutdown requested")
		forceFn()
		os.Exit(130)
	}()
}

// setLogLevel applies DONA_LOG_LEVEL (debug, info, warn, error).
func setLogLevel(v string) {
	if v == "" {
		return
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		slog.Warn("ignoring log level", "value", v)
		return
	}
	slog.SetLogLoggerLevel(lvl)
}

func printHelp() {
	fmt.Printf(`donashell %s - native shell for the DoNa web app

USAGE:
  donashell [uri]          Start the shell, optionally opening a deep link
  donashell open <uri>     Route a deep link into the running shell
  donashell config init    Write a default config file
  donashell config show    Print the effective configuration
  donashell --version      Print the version

ENVIRONMENT:
  DONA_APP_ORIGIN          Web app origin (default https://dona.io.kr)
  DONA_PORT                Control API port (default 9871)
  DONA_TOKEN               Control API bearer token (default: generated in the state dir)
  DONA_URL                 Control API URL used by "open"
  DONA_STORE               file, sqlite or redis
  DONA_PURCHASE_PROVIDER   sandbox or stripe
  DONA_HEADLESS            Run Chrome headless
  DONA_LOG_LEVEL           debug, info, warn or error
`, version)
}
