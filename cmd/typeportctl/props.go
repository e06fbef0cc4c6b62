package main

import (
    "fmt"
    "time"

    "github.com/spf13/cobra"

    "github.com/rock-core/base-orogen-std/pkg/propstore"
    "github.com/rock-core/base-orogen-std/pkg/protocol"
    "github.com/rock-core/base-orogen-std/pkg/protocol/codec"
    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

var propsDB string

type propRow struct {
    Component string `json:"component" yaml:"component"`
    Name      string `json:"name" yaml:"name"`
    Type      string `json:"type" yaml:"type"`
    Value     string `json:"value" yaml:"value"`
    Updated   string `json:"updated" yaml:"updated"`
}

var propsCmd = &cobra.Command{
    Use:   "props",
    Short: "Inspect persisted properties",
}

var propsDumpCmd = &cobra.Command{
    Use:   "dump [component]...",
    Short: "Print stored property values, of every component by default",
    RunE: func(cmd *cobra.Command, args []string) error {
        path := propsDB
        if path == "" { path = cfg.Properties.Path }
        st, err := propstore.Open(path)
        if err != nil { return err }
        defer st.Close()
        types, err := loadTypes()
        if err != nil { return err }
        codecs, err := codec.NewDefaultRegistry()
        if err != nil { return err }

        ctx := cmd.Context()
        comps := args
        if len(comps) == 0 {
            if comps, err = st.Components(ctx); err != nil { return err }
        }
        var rows []propRow
        for _, c := range comps {
            recs, err := st.Load(ctx, c)
            if err != nil { return err }
            for _, r := range recs {
                row := propRow{Component: r.Component, Name: r.Name, Type: r.Type, Updated: r.UpdatedAt.Format(time.RFC3339)}
                row.Value = decodeRecord(types, codecs, r)
                rows = append(rows, row)
            }
        }
        fmt.Fprint(cmd.OutOrStdout(), formatter.Format(rows))
        return nil
    },
}

// decodeRecord renders a stored value in the textual form of its type.
func decodeRecord(types *typekit.Registry, codecs *codec.Registry, r propstore.Record) string {
    t, err := types.Lookup(r.Type)
    if err != nil { return "<" + err.Error() + ">" }
    f, err := protocol.ParseFormat(r.Format)
    if err != nil { return "<" + err.Error() + ">" }
    c, err := protocol.CodecFor(codecs, f)
    if err != nil { return "<" + err.Error() + ">" }
    v, err := codec.UnmarshalValue(c, t, r.Data)
    if err != nil { return "<" + err.Error() + ">" }
    return v.String()
}

func init() {
    propsDumpCmd.Flags().StringVar(&propsDB, "db", "", "property database (default properties.path from the config)")
    propsCmd.AddCommand(propsDumpCmd)
    rootCmd.AddCommand(propsCmd)
}
