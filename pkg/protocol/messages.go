package protocol

import "github.com/rock-core/base-orogen-std/pkg/handshake"

// Policy is the part of a connection policy the accepting side needs to
// build the input channel.
type Policy struct {
    Type string `json:"type"`
    Size int    `json:"size,omitempty"`
    Init bool   `json:"init,omitempty"`
}

// Open asks the remote process to bind a connection to one of its input
// ports. The connection id travels in the envelope header.
type Open struct {
    Process string           `json:"process"`
    Source  string           `json:"source"`
    Target  string           `json:"target"`
    Type    string           `json:"type"`
    Format  Format           `json:"format"`
    Policy  Policy           `json:"policy"`
    Hello   *handshake.Hello `json:"hello,omitempty"`
}

// Subscribe asks a stream publisher to fan its samples out to the sender.
type Subscribe struct {
    Process string           `json:"process"`
    Topic   string           `json:"topic"`
    Type    string           `json:"type"`
    Format  Format           `json:"format"`
    Hello   *handshake.Hello `json:"hello,omitempty"`
}

// Ack answers Open and Subscribe.
type Ack struct {
    OK      bool   `json:"ok"`
    Reason  string `json:"reason,omitempty"`
    Process string `json:"process,omitempty"`
}

// Close tears a connection down.
type Close struct {
    Reason string `json:"reason,omitempty"`
}

// Heartbeat keeps an idle link alive.
type Heartbeat struct {
    SentAt int64 `json:"sent_at"`
}
