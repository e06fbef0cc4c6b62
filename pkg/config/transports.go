package config

// TransportConfig describes one transport to listen on.
// Example YAML:
// transports:
//   - kind: tcp
//     listen: "0.0.0.0:7000"
//   - kind: quic
//     listen: ":4433"
//   - kind: serial
//     listen: "/dev/ttyUSB0?baud=115200"
//   - kind: winpipe
//     listen: "\\\\.\\pipe\\typeport"
//   - kind: mem
// An empty listen address selects the transport default.
type TransportConfig struct {
    Kind   string `mapstructure:"kind"`
    Listen string `mapstructure:"listen"`
}

func knownTransport(kind string) bool {
    switch kind {
    case "mem", "tcp", "udp", "quic", "grpc", "serial", "winpipe":
        return true
    }
    return false
}
