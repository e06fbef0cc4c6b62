package main

import (
    "context"
    "fmt"
    "os"
    "os/signal"
    "strings"
    "syscall"

    "go.uber.org/zap"

    "github.com/rock-core/base-orogen-std/pkg/config"
    "github.com/rock-core/base-orogen-std/pkg/observability"
    "github.com/rock-core/base-orogen-std/pkg/process"
    "github.com/rock-core/base-orogen-std/pkg/transports"
)

// run is the main entry point after CLI parsing.
func run(opts Options) error {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil { return fmt.Errorf("failed to load config: %w", err) }
    if err := applyOverrides(cfg, opts); err != nil { return err }

    _, cleanup, err := observability.SetupLogger(cfg.Log, cfg.Process)
    if err != nil { return fmt.Errorf("failed to setup logger: %w", err) }
    defer cleanup()

    zap.L().Info("typeportd started", zap.String("process", cfg.Process))
    zap.L().Debug("effective configuration", zap.Any("config", cfg))

    host, err := process.New(cfg, process.Options{})
    if err != nil {
        zap.L().Error("failed to start process host", zap.Error(err))
        return err
    }
    defer func() {
        if err := host.Close(); err != nil { zap.L().Warn("shutdown", zap.Error(err)) }
    }()

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()
    if err := host.Serve(ctx); err != nil {
        zap.L().Error("serve failed", zap.Error(err))
        return err
    }
    zap.L().Info("typeportd stopping")
    return nil
}

func applyOverrides(cfg *config.Config, opts Options) error {
    if opts.Process != "" { cfg.Process = opts.Process }
    if opts.LogLevel != "" { cfg.Log.Level = opts.LogLevel }
    for _, l := range opts.Listen {
        kind, addr, _ := strings.Cut(l, "=")
        if _, err := transports.ParseID(kind); err != nil { return fmt.Errorf("--listen %s: %w", l, err) }
        cfg.Transports = append(cfg.Transports, config.TransportConfig{Kind: strings.ToLower(kind), Listen: addr})
    }
    return nil
}
