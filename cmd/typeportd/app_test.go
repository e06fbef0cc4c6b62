package main

import (
    "testing"

    "github.com/stretchr/testify/require"

    "github.com/rock-core/base-orogen-std/pkg/config"
)

func TestFlagsReachRun(t *testing.T) {
    var got Options
    cmd := newRootCmd(func(o Options) error { got = o; return nil })
    cmd.SetArgs([]string{"--config", "x.yaml", "--process", "robot", "--listen", "tcp=127.0.0.1:7000", "--listen", "quic"})
    require.NoError(t, cmd.Execute())
    require.Equal(t, Options{ConfigPath: "x.yaml", Process: "robot", Listen: []string{"tcp=127.0.0.1:7000", "quic"}}, got)
}

func TestApplyOverrides(t *testing.T) {
    cfg := config.Default()
    cfg.Transports = nil
    require.NoError(t, applyOverrides(cfg, Options{Process: "robot", LogLevel: "debug", Listen: []string{"TCP=127.0.0.1:7000", "mem"}}))
    require.Equal(t, "robot", cfg.Process)
    require.Equal(t, "debug", cfg.Log.Level)
    require.Equal(t, []config.TransportConfig{{Kind: "tcp", Listen: "127.0.0.1:7000"}, {Kind: "mem"}}, cfg.Transports)

    require.Error(t, applyOverrides(cfg, Options{Listen: []string{"pigeon"}}))
}
