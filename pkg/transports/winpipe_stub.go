//go:build !windows

package transports

import (
    "fmt"

    "github.com/rock-core/base-orogen-std/pkg/transport"
)

func winPipeAvailable() bool { return false }

func newWinPipeTransport() (transport.Transport, error) { return nil, fmt.Errorf("winpipe transport is not supported on this platform") }
