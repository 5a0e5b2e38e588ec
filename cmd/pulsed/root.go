package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zoobzio/pulse"
	"github.com/zoobzio/pulse/internal/daemon"
	"github.com/zoobzio/pulse/vdb"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "pulsed",
		Short: "Child-engine liveness tracker",
		Long: `pulsed tracks the liveness of child engines from heartbeats, probes and
membership backends, debounces flapping, and publishes confirmed up/down
transitions over HTTP and to configured sinks.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initConfig(v)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default is ./pulsed.yaml or /etc/pulse/pulsed.yaml)")
	root.PersistentFlags().String("listen", "", "HTTP listen address")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("policy-file", "", "tracker policy document, reloaded on change")
	root.PersistentFlags().String("vdb-file", "", "virtual database definitions")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("listen", root.PersistentFlags().Lookup("listen"))
	_ = v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("policy_file", root.PersistentFlags().Lookup("policy-file"))
	_ = v.BindPFlag("vdb_file", root.PersistentFlags().Lookup("vdb-file"))

	root.AddCommand(newServeCmd(v), newCheckCmd(v))
	return root
}

func initConfig(v *viper.Viper) error {
	daemon.SetDefaults(v)

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pulsed")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pulse")
	}

	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Running without a config file is fine unless one was named.
		var notFound viper.ConfigFileNotFoundError
		if v.GetString("config") != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tracker and its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := daemon.Load(v)
			if err != nil {
				return err
			}

			logger := daemon.NewLogger(os.Stderr, cfg.LogLevel)
			daemon.BridgeEvents(logger)

			d, err := daemon.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return d.Run(ctx)
		},
	}
}

func newCheckCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration, policy and vdb files without starting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := daemon.Load(v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if cfg.PolicyFile != "" {
				data, err := os.ReadFile(cfg.PolicyFile)
				if err != nil {
					return err
				}
				policy, err := pulse.DecodeConfig(pulse.CodecForPath(cfg.PolicyFile), data)
				if err != nil {
					return fmt.Errorf("%s: %w", cfg.PolicyFile, err)
				}
				fmt.Fprintf(out, "policy: threshold=%d window=%s queue_size=%d explicit_registration=%t\n",
					policy.Threshold, policy.Window, policy.QueueSize, policy.RequireExplicitRegistration)
			}

			if cfg.VDBFile != "" {
				data, err := os.ReadFile(cfg.VDBFile)
				if err != nil {
					return err
				}
				collection, err := vdb.DecodeCollection(pulse.CodecForPath(cfg.VDBFile), data)
				if err != nil {
					return fmt.Errorf("%s: %w", cfg.VDBFile, err)
				}
				fmt.Fprintf(out, "vdbs: %s\n", strings.Join(collection.Names(), ", "))
			}

			fmt.Fprintf(out, "config ok (listen %s)\n", cfg.Listen)
			return nil
		},
	}
}
