package main

import (
    "context"
    "fmt"
    "time"

    "github.com/google/uuid"
    "github.com/spf13/cobra"

    "github.com/rock-core/base-orogen-std/pkg/process"
    "github.com/rock-core/base-orogen-std/pkg/transports"
)

var (
    selftestTransports []string
    selftestTimeout    time.Duration
)

type selftestRow struct {
    Transport string `json:"transport" yaml:"transport"`
    Type      string `json:"type" yaml:"type"`
    Sent      string `json:"sent" yaml:"sent"`
    Received  string `json:"received" yaml:"received"`
    Status    string `json:"status" yaml:"status"`
}

// selftestIDs picks the transports to probe. A scratch process cannot
// reach itself over a serial line, which needs a device at each end.
func selftestIDs() ([]transports.ID, error) {
    var ids []transports.ID
    if len(selftestTransports) == 0 {
        for _, id := range transports.IDs() {
            if id != transports.Serial { ids = append(ids, id) }
        }
        return ids, nil
    }
    for _, s := range selftestTransports {
        id, err := transports.ParseID(s)
        if err != nil { return nil, err }
        if id == transports.Serial { return nil, fmt.Errorf("selftest: serial needs two devices, test it with a deployment") }
        ids = append(ids, id)
    }
    return ids, nil
}

var selftestCmd = &cobra.Command{
    Use:   "selftest",
    Short: "Round trip extremal values of every std type over each transport in a scratch process",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        ids, err := selftestIDs()
        if err != nil { return err }
        local := *cfg
        local.Process = "selftest-" + uuid.NewString()[:8]
        local.Transports = nil
        local.Components, local.Connections = nil, nil
        local.Properties.Persist = false
        host, err := process.New(&local, process.Options{})
        if err != nil { return err }
        defer func() { _ = host.Close() }()

        ctx := cmd.Context()
        if ctx == nil { ctx = context.Background() }
        var rows []selftestRow
        failed := 0
        for _, id := range ids {
            results, err := host.SelfTest(ctx, id, selftestTimeout)
            if err != nil { return fmt.Errorf("%s: %w", id, err) }
            for _, r := range results {
                row := selftestRow{Transport: id.String(), Type: r.Type, Sent: r.Sent, Received: r.Received, Status: "ok"}
                if !r.OK() {
                    failed++
                    row.Status = r.Err.Error()
                }
                rows = append(rows, row)
            }
        }
        fmt.Fprint(cmd.OutOrStdout(), formatter.Format(rows))
        if failed > 0 { return fmt.Errorf("%d probes failed", failed) }
        return nil
    },
}

func init() {
    selftestCmd.Flags().StringSliceVarP(&selftestTransports, "transport", "t", nil, "transports to probe (default all but serial)")
    selftestCmd.Flags().DurationVar(&selftestTimeout, "timeout", 5*time.Second, "time allowed per probe")
    rootCmd.AddCommand(selftestCmd)
}
