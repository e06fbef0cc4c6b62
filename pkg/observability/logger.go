// Package observability contains logging setup for typeport processes.
package observability

import (
    "fmt"
    "io"
    "os"
    "path/filepath"
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "gopkg.in/natefinch/lumberjack.v2"

    "github.com/rock-core/base-orogen-std/pkg/config"
)

// ParseLevel maps a configured level name to a zap level. Unknown names
// select info.
func ParseLevel(s string) zapcore.Level {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "debug":
        return zap.DebugLevel
    case "warn", "warning":
        return zap.WarnLevel
    case "error":
        return zap.ErrorLevel
    default:
        return zap.InfoLevel
    }
}

// SetupLogger builds a zap.Logger tagged with the process name, sets it as
// the global logger and redirects the stdlib log package. The returned
// function syncs the logger and closes opened files; call it on shutdown.
func SetupLogger(c config.LogConfig, process string) (*zap.Logger, func(), error) {
    level := zap.NewAtomicLevelAt(ParseLevel(c.Level))

    encCfg := encoderConfig(c.Development)
    var encoder zapcore.Encoder
    if strings.ToLower(c.Format) == "json" {
        encoder = zapcore.NewJSONEncoder(encCfg)
    } else {
        encoder = zapcore.NewConsoleEncoder(encCfg)
    }

    var cores []zapcore.Core
    var closers []io.Closer
    for _, out := range c.Outputs {
        ws, cl, err := sinkFor(out, c)
        if err != nil {
            for _, x := range closers { _ = x.Close() }
            return nil, nil, err
        }
        if cl != nil { closers = append(closers, cl) }
        cores = append(cores, zapcore.NewCore(encoder, ws, level))
    }

    opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
    if c.Development { opts = append(opts, zap.Development()) }
    logger := zap.New(zapcore.NewTee(cores...), opts...)
    if process != "" { logger = logger.With(zap.String("process", process)) }

    restoreGlobals := zap.ReplaceGlobals(logger)
    restoreStd, _ := zap.RedirectStdLogAt(logger, zap.InfoLevel)
    cleanup := func() {
        _ = logger.Sync()
        if restoreStd != nil { restoreStd() }
        restoreGlobals()
        for _, x := range closers { _ = x.Close() }
    }
    return logger, cleanup, nil
}

// sinkFor opens one output: stdout, stderr or a file path, rotated with
// lumberjack when rotation is enabled.
func sinkFor(out string, c config.LogConfig) (zapcore.WriteSyncer, io.Closer, error) {
    switch strings.ToLower(out) {
    case "stdout":
        return zapcore.Lock(os.Stdout), nil, nil
    case "stderr":
        return zapcore.Lock(os.Stderr), nil, nil
    }
    if c.Rotation.Enable {
        name := out
        if strings.TrimSpace(c.Rotation.Filename) != "" { name = c.Rotation.Filename }
        lj := &lumberjack.Logger{
            Filename:   name,
            MaxSize:    max(c.Rotation.MaxSizeMB, 10),
            MaxBackups: max(c.Rotation.MaxBackups, 1),
            MaxAge:     max(c.Rotation.MaxAgeDays, 7),
            Compress:   c.Rotation.Compress,
        }
        return zapcore.AddSync(lj), lj, nil
    }
    if dir := filepath.Dir(out); dir != "." {
        if err := os.MkdirAll(dir, 0o755); err != nil { return nil, nil, fmt.Errorf("log output %s: %w", out, err) }
    }
    f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
    if err != nil { return nil, nil, fmt.Errorf("log output %s: %w", out, err) }
    return zapcore.AddSync(f), f, nil
}

func encoderConfig(dev bool) zapcore.EncoderConfig {
    if dev {
        cfg := zap.NewDevelopmentEncoderConfig()
        cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
        return cfg
    }
    cfg := zap.NewProductionEncoderConfig()
    cfg.EncodeTime = zapcore.ISO8601TimeEncoder
    return cfg
}
