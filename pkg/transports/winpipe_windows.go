//go:build windows

package transports

import (
    "github.com/rock-core/base-orogen-std/pkg/transport"
    "github.com/rock-core/base-orogen-std/pkg/transport/winpipe"
)

func winPipeAvailable() bool { return true }

func newWinPipeTransport() (transport.Transport, error) { return winpipe.New(), nil }
