package main

import (
    "github.com/spf13/cobra"
)

// Options holds CLI options for the daemon.
type Options struct {
    ConfigPath string
    Process    string
    LogLevel   string
    Listen     []string
}

// newRootCmd builds the command line; run is invoked with the parsed options.
func newRootCmd(run func(Options) error) *cobra.Command {
    var opts Options
    cmd := &cobra.Command{
        Use:           "typeportd",
        Short:         "Host task contexts and their port connections",
        SilenceUsage:  true,
        SilenceErrors: true,
        Args:          cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error { return run(opts) },
    }
    f := cmd.Flags()
    f.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
    f.StringVar(&opts.Process, "process", "", "Process name (overrides config)")
    f.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
    f.StringSliceVar(&opts.Listen, "listen", nil, "Extra listeners as kind or kind=address (repeatable)")
    return cmd
}
