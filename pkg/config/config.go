// Package config provides YAML-based configuration loading for typeport
// processes.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
    // Process names this process in handshakes, adverts and listener names.
    Process string `mapstructure:"process"`

    // DataDir base directory for persistent data
    DataDir string `mapstructure:"data_dir"`

    Log LogConfig `mapstructure:"log"`

    Typekits TypekitConfig `mapstructure:"typekits"`

    // Transports lists the transports to listen on at startup.
    Transports []TransportConfig `mapstructure:"transports"`

    Directory DirectoryConfig `mapstructure:"directory"`

    Properties PropertiesConfig `mapstructure:"properties"`

    // Identity controls the key used to sign handshakes.
    Identity IdentityConfig `mapstructure:"identity"`

    Connection ConnectionConfig `mapstructure:"connection"`

    Net NetConfig `mapstructure:"net"`

    // Components and Connections are deployed at startup.
    Components  []ComponentConfig `mapstructure:"components"`
    Connections []ConnectionSpec  `mapstructure:"connections"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level"`
    // Format: console or json
    Format string `mapstructure:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs"`

    Rotation    RotationConfig `mapstructure:"rotation"`
    Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}

// TypekitConfig selects the types known to the process.
type TypekitConfig struct {
    // Load names builtin typekits (std).
    Load []string `mapstructure:"load"`
    // Manifests are YAML typekit manifests loaded after the builtins.
    Manifests []string `mapstructure:"manifests"`
}

// DirectoryConfig selects where stream topics are advertised.
type DirectoryConfig struct {
    // Kind: memory or etcd
    Kind          string   `mapstructure:"kind"`
    Endpoints     []string `mapstructure:"endpoints"`
    DialTimeoutMS int      `mapstructure:"dial_timeout_ms"`
    LeaseTTLS     int      `mapstructure:"lease_ttl_s"`
}

// PropertiesConfig controls property persistence.
type PropertiesConfig struct {
    // Path of the SQLite database; empty means <data_dir>/properties.db.
    Path string `mapstructure:"path"`
    // Persist saves properties on shutdown and restores them on deploy.
    Persist bool `mapstructure:"persist"`
}

// IdentityConfig describes cryptographic identity settings.
type IdentityConfig struct {
    Alg            string `mapstructure:"alg"`
    PrivateKey     string `mapstructure:"private_key"`      // base64url(no padding) of raw private key bytes
    PrivateKeyFile string `mapstructure:"private_key_file"` // path to file containing base64 or raw bytes
    // Sign attaches a signed hello to every connection request.
    Sign bool `mapstructure:"sign"`
}

// ConnectionConfig tunes the connection manager.
type ConnectionConfig struct {
    AckTimeoutMS  int  `mapstructure:"ack_timeout_ms"`
    HeartbeatMS   int  `mapstructure:"heartbeat_ms"`
    IdleTimeoutMS int  `mapstructure:"idle_timeout_ms"`
    MaxSkewMS     int  `mapstructure:"max_skew_ms"`
    RequireSigned bool `mapstructure:"require_signed"`
}

// NetConfig contains transport tuning options.
type NetConfig struct {
    UDPMaxDatagram int `mapstructure:"udp_max_datagram"`
    DialTimeoutMS  int `mapstructure:"dial_timeout_ms"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        Process: "typeport",
        DataDir: "./data",
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/typeport.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Typekits:   TypekitConfig{Load: []string{"std"}},
        Transports: []TransportConfig{{Kind: "mem"}, {Kind: "tcp", Listen: "127.0.0.1:0"}},
        Directory:  DirectoryConfig{Kind: "memory", DialTimeoutMS: 5000, LeaseTTLS: 10},
        Identity:   IdentityConfig{Alg: "ed25519"},
        Connection: ConnectionConfig{AckTimeoutMS: 5000, HeartbeatMS: 2000, IdleTimeoutMS: 10000, MaxSkewMS: 300000},
        Net:        NetConfig{UDPMaxDatagram: 1200, DialTimeoutMS: 5000},
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix TYPEPORT and `.`/`-` are replaced with `_`.
// Example: TYPEPORT_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("TYPEPORT")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    // seed defaults for viper so env-only configs work
    v.SetDefault("process", cfg.Process)
    v.SetDefault("data_dir", cfg.DataDir)
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
    v.SetDefault("typekits.load", cfg.Typekits.Load)
    v.SetDefault("typekits.manifests", cfg.Typekits.Manifests)
    v.SetDefault("transports", cfg.Transports)
    v.SetDefault("directory.kind", cfg.Directory.Kind)
    v.SetDefault("directory.endpoints", cfg.Directory.Endpoints)
    v.SetDefault("directory.dial_timeout_ms", cfg.Directory.DialTimeoutMS)
    v.SetDefault("directory.lease_ttl_s", cfg.Directory.LeaseTTLS)
    v.SetDefault("properties.path", cfg.Properties.Path)
    v.SetDefault("properties.persist", cfg.Properties.Persist)
    v.SetDefault("identity.alg", cfg.Identity.Alg)
    v.SetDefault("identity.private_key", cfg.Identity.PrivateKey)
    v.SetDefault("identity.private_key_file", cfg.Identity.PrivateKeyFile)
    v.SetDefault("identity.sign", cfg.Identity.Sign)
    v.SetDefault("connection.ack_timeout_ms", cfg.Connection.AckTimeoutMS)
    v.SetDefault("connection.heartbeat_ms", cfg.Connection.HeartbeatMS)
    v.SetDefault("connection.idle_timeout_ms", cfg.Connection.IdleTimeoutMS)
    v.SetDefault("connection.max_skew_ms", cfg.Connection.MaxSkewMS)
    v.SetDefault("connection.require_signed", cfg.Connection.RequireSigned)
    v.SetDefault("net.udp_max_datagram", cfg.Net.UDPMaxDatagram)
    v.SetDefault("net.dial_timeout_ms", cfg.Net.DialTimeoutMS)

    // Choose config file
    if path == "" {
        if envPath := os.Getenv("TYPEPORT_CONFIG"); envPath != "" {
            path = envPath
        }
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        // Search common locations with base name `typeport`
        v.SetConfigName("typeport")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".typeport"))
        }
    }

    // Read config file if present; if not found, continue with defaults/env
    if err := v.ReadInConfig(); err != nil {
        var viperConfigFileNotFound viper.ConfigFileNotFoundError
        if !errors.As(err, &viperConfigFileNotFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    // decoded fresh from viper so file entries do not inherit default fields
    cfg.Transports = nil
    if err := v.Unmarshal(cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

func (c *Config) validate() error {
    lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
    switch lvl {
    case "debug", "info", "warn", "warning", "error":
        // ok
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }

    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }
    c.Process = strings.TrimSpace(c.Process)
    if c.Process == "" || strings.ContainsAny(c.Process, "/\\ ") {
        return fmt.Errorf("invalid process name: %q", c.Process)
    }
    if len(c.Typekits.Load) == 0 {
        c.Typekits.Load = []string{"std"}
    }
    for i := range c.Transports {
        t := &c.Transports[i]
        t.Kind = strings.ToLower(strings.TrimSpace(t.Kind))
        if !knownTransport(t.Kind) { return fmt.Errorf("transports[%d]: unknown kind %q", i, t.Kind) }
        if t.Kind == "serial" && t.Listen == "" { return fmt.Errorf("transports[%d]: serial needs a device path", i) }
    }

    c.Directory.Kind = strings.ToLower(strings.TrimSpace(c.Directory.Kind))
    switch c.Directory.Kind {
    case "", "memory":
        c.Directory.Kind = "memory"
    case "etcd":
        if len(c.Directory.Endpoints) == 0 { return errors.New("directory.endpoints required for etcd") }
    default:
        return fmt.Errorf("invalid directory.kind: %q", c.Directory.Kind)
    }

    if c.Properties.Path == "" {
        c.Properties.Path = filepath.Join(c.DataDir, "properties.db")
    }
    if c.Connection.AckTimeoutMS < 0 || c.Connection.HeartbeatMS < 0 || c.Connection.IdleTimeoutMS < 0 {
        return errors.New("connection timeouts must not be negative")
    }
    if c.Net.UDPMaxDatagram != 0 && c.Net.UDPMaxDatagram < 128 {
        return fmt.Errorf("net.udp_max_datagram too small: %d", c.Net.UDPMaxDatagram)
    }
    return c.validateDeployment()
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}
