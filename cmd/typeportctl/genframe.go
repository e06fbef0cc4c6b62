package main

import (
    "encoding/hex"
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "github.com/spf13/cobra"

    "github.com/rock-core/base-orogen-std/pkg/process"
    "github.com/rock-core/base-orogen-std/pkg/protocol"
    "github.com/rock-core/base-orogen-std/pkg/protocol/codec"
)

var (
    genframeOut    string
    genframeFormat string
    genframeChunk  int
)

type frameRow struct {
    File  string `json:"file" yaml:"file"`
    Bytes int    `json:"bytes" yaml:"bytes"`
    Head  string `json:"head" yaml:"head"`
}

var genframeCmd = &cobra.Command{
    Use:   "genframe",
    Short: "Write reference wire frames: one sample per std probe, an open request and a fragmented sample",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        f, err := protocol.ParseFormat(genframeFormat)
        if err != nil { return err }
        if f == protocol.FormatUnknown { f = protocol.FormatBinary }
        if err := os.MkdirAll(genframeOut, 0o755); err != nil { return err }
        codecs, err := codec.NewDefaultRegistry()
        if err != nil { return err }
        types, err := loadTypes()
        if err != nil { return err }
        probes, err := process.Probes(types)
        if err != nil { return err }

        conn := [16]byte{0: 0x7e, 15: 0x01}
        var rows []frameRow
        write := func(name string, env *protocol.Envelope) error {
            b, err := env.EncodeFrame()
            if err != nil { return err }
            if err := os.WriteFile(filepath.Join(genframeOut, name), b, 0o644); err != nil { return err }
            rows = append(rows, frameRow{File: name, Bytes: len(b), Head: shortHex(b, 24)})
            return nil
        }

        seen := map[string]int{}
        for _, p := range probes {
            payload, err := protocol.EncodeSample(codecs, f, p.Value)
            if err != nil { return fmt.Errorf("%s: %w", p.Type, err) }
            env := protocol.Envelope{
                Header:  protocol.Header{Version: protocol.Version, Type: protocol.MsgSample, Format: f, TypeID: p.Value.Type().ID(), ConnID: conn},
                Payload: payload,
            }
            name := strings.ReplaceAll(strings.TrimPrefix(p.Type, "/"), "/", "_")
            seen[name]++
            if err := write(fmt.Sprintf("sample_%s_%d_%s.bin", name, seen[name], f.Name()), &env); err != nil { return err }
        }

        open, err := protocol.NewControl(codecs, protocol.MsgOpen, conn, protocol.Open{
            Process: "typeportctl", Source: "producer.out", Target: "consumer.in", Type: "/int32_t",
            Format: f, Policy: protocol.Policy{Type: "data"},
        })
        if err != nil { return err }
        open.Header.Timestamp = 0
        if err := write("control_open.bin", &open); err != nil { return err }

        big, err := types.NewValue("/std/string", strings.Repeat("typeport", 16))
        if err != nil { return err }
        payload, err := protocol.EncodeSample(codecs, f, big)
        if err != nil { return err }
        env := protocol.Envelope{Header: protocol.Header{Version: protocol.Version, Type: protocol.MsgSample, Format: f, TypeID: big.Type().ID(), ConnID: conn}, Payload: payload}
        frags, err := env.Fragments(genframeChunk)
        if err != nil { return err }
        for i := range frags {
            if err := write(fmt.Sprintf("sample_frag_%02d.bin", i), &frags[i]); err != nil { return err }
        }

        fmt.Fprint(cmd.OutOrStdout(), formatter.Format(rows))
        return nil
    },
}

func shortHex(b []byte, n int) string {
    if n > len(b) { n = len(b) }
    enc := hex.EncodeToString(b[:n])
    var out []string
    for i := 0; i < len(enc); i += 8 { out = append(out, enc[i:min(i+8, len(enc))]) }
    s := strings.Join(out, " ")
    if len(b) > n { s += " ..." }
    return s
}

func init() {
    genframeCmd.Flags().StringVar(&genframeOut, "out", "testdata/frame", "output directory for binary frames")
    genframeCmd.Flags().StringVar(&genframeFormat, "format", "binary", "sample format: binary, cbor, json, proto")
    genframeCmd.Flags().IntVar(&genframeChunk, "chunk", 32, "payload bytes per fragment")
    rootCmd.AddCommand(genframeCmd)
}
