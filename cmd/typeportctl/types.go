package main

import (
    "errors"
    "fmt"
    "os"

    "github.com/spf13/cobra"

    "github.com/rock-core/base-orogen-std/pkg/transports"
    "github.com/rock-core/base-orogen-std/pkg/typekit"
)

type typeRow struct {
    Name    string `json:"name" yaml:"name"`
    Kind    string `json:"kind" yaml:"kind"`
    Size    int    `json:"size" yaml:"size"`
    Typekit string `json:"typekit" yaml:"typekit"`
    ID      string `json:"id" yaml:"id"`
}

type transportRow struct {
    ID     int    `json:"id" yaml:"id"`
    Name   string `json:"name" yaml:"name"`
    Format string `json:"format" yaml:"format"`
    Stream bool   `json:"stream" yaml:"stream"`
}

// loadTypes builds the registry the configuration describes.
func loadTypes() (*typekit.Registry, error) {
    r := typekit.NewRegistry()
    for _, name := range cfg.Typekits.Load {
        if err := r.Load(name); err != nil { return nil, err }
    }
    for _, path := range cfg.Typekits.Manifests {
        if err := r.LoadFile(path); err != nil { return nil, err }
    }
    return r, nil
}

var typesCmd = &cobra.Command{
    Use:   "types",
    Short: "List the registered types",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        r, err := loadTypes()
        if err != nil { return err }
        var rows []typeRow
        for _, name := range r.Names() {
            t, err := r.Lookup(name)
            if err != nil { return err }
            rows = append(rows, typeRow{Name: t.Name, Kind: t.Kind.String(), Size: t.Size, Typekit: t.Typekit, ID: fmt.Sprintf("%08x", t.ID())})
        }
        fmt.Fprint(cmd.OutOrStdout(), formatter.Format(rows))
        return nil
    },
}

var typekitCmd = &cobra.Command{
    Use:   "typekit",
    Short: "Work with typekit manifests",
}

var typekitValidateCmd = &cobra.Command{
    Use:   "validate <manifest.yaml>...",
    Short: "Check manifests against the schema and load them on top of the configured typekits",
    Args:  cobra.MinimumNArgs(1),
    RunE: func(cmd *cobra.Command, args []string) error {
        r, err := loadTypes()
        if err != nil { return err }
        failed := 0
        for _, path := range args {
            data, err := os.ReadFile(path)
            if err == nil { err = r.LoadManifest(data) }
            if err == nil {
                fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
                continue
            }
            failed++
            var me *typekit.ManifestError
            if errors.As(err, &me) {
                for _, is := range me.Issues { fmt.Fprintf(cmd.OutOrStdout(), "%s: %s: %s\n", path, is.Path, is.Message) }
                continue
            }
            fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
        }
        if failed > 0 { return fmt.Errorf("%d of %d manifests invalid", failed, len(args)) }
        return nil
    },
}

var transportsCmd = &cobra.Command{
    Use:   "transports",
    Short: "List the transport table clients select connections from",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        var rows []transportRow
        for _, id := range transports.IDs() {
            rows = append(rows, transportRow{ID: int(id), Name: id.String(), Format: transports.DefaultFormat(id).Name(), Stream: transports.IsStream(id)})
        }
        fmt.Fprint(cmd.OutOrStdout(), formatter.Format(rows))
        return nil
    },
}

func init() {
    typekitCmd.AddCommand(typekitValidateCmd)
    rootCmd.AddCommand(typesCmd, typekitCmd, transportsCmd)
}
