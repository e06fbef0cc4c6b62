package config

import (
    "os"
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
    t.Helper()
    path := filepath.Join(t.TempDir(), "typeport.yaml")
    require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
    return path
}

func TestLoadDefaults(t *testing.T) {
    t.Chdir(t.TempDir())
    cfg, err := Load("")
    require.NoError(t, err)
    require.Equal(t, "typeport", cfg.Process)
    require.Equal(t, []string{"std"}, cfg.Typekits.Load)
    require.Equal(t, "memory", cfg.Directory.Kind)
    require.Equal(t, filepath.Join("./data", "properties.db"), cfg.Properties.Path)
    require.Equal(t, 1200, cfg.Net.UDPMaxDatagram)
    require.Len(t, cfg.Transports, 2)
}

func TestLoadFile(t *testing.T) {
    path := writeConfig(t, `
process: robot
log:
  level: debug
transports:
  - kind: TCP
    listen: "127.0.0.1:7000"
  - kind: quic
directory:
  kind: etcd
  endpoints: ["127.0.0.1:2379"]
connection:
  ack_timeout_ms: 250
components:
  - name: producer
    ports:
      - {name: out, direction: Output, type: /int32_t}
    properties:
      - {name: gain, type: /double, value: "1.5"}
  - name: consumer
    ports:
      - {name: in, direction: input, type: /int32_t}
connections:
  - {from: producer.out, to: consumer.in, transport: udp, type: buffer, size: 8}
  - {from: producer.out, transport: stream, topic: /robot/count}
`)
    cfg, err := Load(path)
    require.NoError(t, err)
    require.Equal(t, "robot", cfg.Process)
    require.Equal(t, "debug", cfg.Log.Level)
    require.Equal(t, []TransportConfig{{Kind: "tcp", Listen: "127.0.0.1:7000"}, {Kind: "quic"}}, cfg.Transports)
    require.Equal(t, "etcd", cfg.Directory.Kind)
    require.Equal(t, 250, cfg.Connection.AckTimeoutMS)
    require.Equal(t, 2000, cfg.Connection.HeartbeatMS)
    require.Len(t, cfg.Components, 2)
    require.Equal(t, "output", cfg.Components[0].Ports[0].Direction)
    require.Equal(t, "1.5", cfg.Components[0].Properties[0].Value)
    require.Len(t, cfg.Connections, 2)
    require.Equal(t, 8, cfg.Connections[0].Size)
    require.Equal(t, "/robot/count", cfg.Connections[1].Topic)
}

func TestEnvOverrides(t *testing.T) {
    t.Chdir(t.TempDir())
    t.Setenv("TYPEPORT_PROCESS", "from-env")
    t.Setenv("TYPEPORT_NET_UDP_MAX_DATAGRAM", "1400")
    cfg, err := Load("")
    require.NoError(t, err)
    require.Equal(t, "from-env", cfg.Process)
    require.Equal(t, 1400, cfg.Net.UDPMaxDatagram)
}

func TestLoadRejectsInvalid(t *testing.T) {
    cases := map[string]string{
        "level":      "log: {level: loud}",
        "process":    "process: \"a b\"",
        "transport":  "transports: [{kind: carrier-pigeon}]",
        "serial":     "transports: [{kind: serial}]",
        "directory":  "directory: {kind: zookeeper}",
        "etcd":       "directory: {kind: etcd}",
        "datagram":   "net: {udp_max_datagram: 12}",
        "direction":  "components: [{name: c, ports: [{name: p, direction: sideways, type: /bool}]}]",
        "duplicate":  "components: [{name: c}, {name: c}]",
        "stream":     "connections: [{from: a.b, transport: stream}]",
        "dangling":   "connections: [{from: a.b}]",
    }
    for name, body := range cases {
        t.Run(name, func(t *testing.T) {
            _, err := Load(writeConfig(t, body))
            require.Error(t, err)
        })
    }
}

func TestMustLoadPanics(t *testing.T) {
    require.Panics(t, func() { MustLoad(writeConfig(t, "log: {level: loud}")) })
}

func TestExampleConfig(t *testing.T) {
    cfg, err := Load(filepath.Join("..", "..", "configs", "typeport.yaml"))
    require.NoError(t, err)
    require.Equal(t, "demo", cfg.Process)
    require.Len(t, cfg.Transports, 3)
    require.Len(t, cfg.Components, 2)
    require.Equal(t, "stream", cfg.Connections[1].Transport)
    require.Equal(t, "output", cfg.Components[0].Ports[0].Direction)
}
