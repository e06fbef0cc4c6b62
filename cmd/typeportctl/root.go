package main

import (
    "fmt"
    "os"

    "github.com/spf13/cobra"
    "go.uber.org/zap"

    "github.com/rock-core/base-orogen-std/pkg/config"
    "github.com/rock-core/base-orogen-std/pkg/observability"
)

var (
    cfgFile      string
    outputFormat string
    verbose      bool

    // set during PersistentPreRunE
    cfg         *config.Config
    formatter   Formatter
    flushLogger func()
)

var rootCmd = &cobra.Command{
    Use:           "typeportctl",
    Short:         "Inspect typekits, property stores and frames, and self test transports",
    SilenceUsage:  true,
    SilenceErrors: true,
    PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
        var err error
        cfg, err = config.Load(cfgFile)
        if err != nil { return fmt.Errorf("failed to load config: %w", err) }
        logCfg := config.LogConfig{Level: "warn", Format: "console", Outputs: []string{"stderr"}}
        if verbose { logCfg.Level = "debug" }
        if _, flushLogger, err = observability.SetupLogger(logCfg, "typeportctl"); err != nil { return err }
        formatter = NewFormatter(outputFormat)
        return nil
    },
    PersistentPostRun: func(cmd *cobra.Command, args []string) {
        if flushLogger != nil { flushLogger() }
    },
}

// Execute runs the root command.
func Execute() {
    if err := rootCmd.Execute(); err != nil {
        zap.L().Debug("command failed", zap.Error(err))
        fmt.Fprintln(os.Stderr, "Error:", err)
        os.Exit(1)
    }
}

func init() {
    rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./typeport.yaml)")
    rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
    rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
}
