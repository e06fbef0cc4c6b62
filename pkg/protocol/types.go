package protocol

// Message types (fits in uint8)
const (
    MsgUnknown   uint8 = iota
    MsgSample          // typed port sample
    MsgOpen            // connection request for an input port
    MsgAck             // answer to MsgOpen/MsgSubscribe
    MsgSubscribe       // stream subscription for a topic
    MsgClose           // connection teardown
    MsgHeartbeat       // liveness ping
)

// MsgName returns a short label for logs.
func MsgName(t uint8) string {
    switch t {
    case MsgSample:
        return "sample"
    case MsgOpen:
        return "open"
    case MsgAck:
        return "ack"
    case MsgSubscribe:
        return "subscribe"
    case MsgClose:
        return "close"
    case MsgHeartbeat:
        return "heartbeat"
    default:
        return "unknown"
    }
}

// Flags bitmask (uint32)
const (
    FlagInit     uint32 = 1 << 0 // sample replays the last written value
    FlagSigned   uint32 = 1 << 1 // control body carries a signed hello
    FlagFragment uint32 = 1 << 4 // this envelope is a fragment
    FlagLastFrag uint32 = 1 << 5 // last fragment
)

// ContentType is optional hint for payload decoding.
// Kept as constants to avoid coupling; not serialized in header.
const (
    ContentUnknown = "application/octet-stream"
    ContentCBOR    = "application/cbor"
    ContentJSON    = "application/json"
    ContentProto   = "application/x-protobuf"
    ContentBinary  = "application/x-typekit"
)
