package sign

import (
    "encoding/base64"
    "strconv"
    "strings"
)

// HelloTranscript builds the canonical transcript used for signing/verifying
// handshake hellos. Format:
//   typeport:hello|v=1|alg=<alg>|ts=<unix_ms>|pub=<b64url>|nonce=<b64url>|name=<process>|bind=<binding>
// The binding ties the hello to one connection request (connection id and
// target) so it cannot be replayed for another.
func HelloTranscript(alg string, pub, nonce []byte, tsUnixMS int64, process, binding string) []byte {
    b64 := base64.RawURLEncoding
    var sb strings.Builder
    sb.Grow(96 + len(process) + len(binding))
    sb.WriteString("typeport:hello|v=1|alg=")
    sb.WriteString(strings.ToLower(strings.TrimSpace(alg)))
    sb.WriteString("|ts=")
    sb.WriteString(strconv.FormatInt(tsUnixMS, 10))
    sb.WriteString("|pub=")
    sb.WriteString(b64.EncodeToString(pub))
    sb.WriteString("|nonce=")
    sb.WriteString(b64.EncodeToString(nonce))
    sb.WriteString("|name=")
    sb.WriteString(process)
    sb.WriteString("|bind=")
    sb.WriteString(binding)
    return []byte(sb.String())
}
