package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/CbIPOKGIT/claimer/config"
	"github.com/CbIPOKGIT/claimer/logging"
)

// flag name -> config key
var flagKeys = map[string]string{
	"max-cycles":     "engine.max_cycles",
	"target-url":     "site.target_url",
	"providers":      "captcha.providers",
	"proxy-required": "proxy.required",
	"headless":       "browser.headless",
	"log-level":      "logger.level",
	"debug-dir":      "diagnostics.dir",
	"progress-shots": "diagnostics.progress",
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		envFiles []string
	)
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "claimer",
		Short:         "Claims the earn reward in cycles until the cooldown is reached",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFiles...); err != nil {
				return &exitError{code: EXIT_FATAL, err: err}
			}

			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return &exitError{code: EXIT_FATAL, err: err}
			}

			logger := logging.New(cfg.Logger)
			defer logger.Sync()
			defer logging.Install(logger)()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := run(ctx, cfg, logger)
			if err != nil {
				logger.Error("Run failed before the first cycle", zap.Error(err))
				return &exitError{code: EXIT_FATAL, err: err}
			}

			printReport(cmd.OutOrStdout(), report)
			if code := exitCode(report); code != EXIT_OK {
				return &exitError{code: code}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./claimer.yaml)")
	flags.StringSliceVar(&envFiles, "env-file", nil, ".env files to load (default is ./.env)")
	flags.Int("max-cycles", 10, "stop after this many cycles, 0 runs until cooldown or the safety cycle limit")
	flags.String("target-url", "", "workflow page to claim on")
	flags.StringSlice("providers", nil, "captcha providers in priority order")
	flags.Bool("proxy-required", true, "abort when no configured proxy works")
	flags.Bool("headless", true, "run the browser without a window")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("debug-dir", "", "directory for screenshots and page dumps")
	flags.Bool("progress-shots", false, "also save screenshots at every checkpoint")

	if err := bindFlags(v, cmd); err != nil {
		panic(err)
	}
	return cmd
}

// bindFlags makes the command flags override their config keys once set.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}
