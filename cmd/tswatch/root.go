package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tswatch/internal/tswatch"
)

var (
	configPath string
	debug      bool

	svc *tswatch.Service
)

var rootCmd = &cobra.Command{
	Use:   "tswatch",
	Short: "Follow Times Square notebook executions",
	Long: `tswatch follows the execution status of Times Square notebook pages.

It combines the html/events stream with htmlstatus polling and reports
when freshly rendered HTML becomes available.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := tswatch.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if debug {
			cfg.Logging.Debug = true
		}
		svc, err = tswatch.NewService(cfg)
		if err != nil {
			return fmt.Errorf("init service: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getenvDefault("TSWATCH_CONFIG", ""), "path to tswatch.yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug lines")
}

// parseParams turns key=value arguments into Params.
func parseParams(args []string) (tswatch.Params, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(tswatch.Params, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", a)
		}
		out[k] = v
	}
	return out, nil
}

// describeError prefers the user-facing message for HTTP failures.
func describeError(err error) string {
	if code := tswatch.StatusCode(err); code != 0 {
		return tswatch.UserMessage(code, err.Error())
	}
	return err.Error()
}
