package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"servis/internal/app"
	"servis/internal/config"
)

func newRootCommand() *cobra.Command {
	var (
		configPath  string
		interactive bool
		consoleUser string
	)

	rootCmd := &cobra.Command{
		Use:   "servis",
		Short: "Voice-first assistant command orchestrator",
		Long: `servis accepts natural-language commands from voice, text, web and
mobile front-ends, classifies them into intents, and routes them to the
downstream services that carry them out.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			opts := app.Options{}
			if interactive {
				opts.ConsoleInput = os.Stdin
				opts.ConsoleUser = consoleUser
			}

			container, err := app.Build(cfg, opts)
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			os.Exit(run(cmd.Context(), container))
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file path (default ~/.servis/config.yaml)")
	flags.BoolVarP(&interactive, "interactive", "i", false, "Attach an interactive console on stdin")
	flags.StringVar(&consoleUser, "user", "console", "User id for interactive submissions")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")
	flags.String("data-dir", "", "Data directory for persisted state")
	flags.Int("web-port", 0, "Web adapter listen port")
	flags.String("mqtt-broker", "", "MQTT broker URL (enables the MQTT transport)")
	flags.Bool("metrics", false, "Enable the Prometheus metrics endpoint")

	viper.SetEnvPrefix("SERVIS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"log-level", "log-format", "data-dir", "web-port", "mqtt-broker", "metrics"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// loadConfig layers defaults, the config file, SERVIS_* environment
// variables, and finally explicit CLI flags.
func loadConfig(path string) (config.Config, error) {
	var opts []config.Option
	if path != "" {
		opts = append(opts, config.WithPath(path))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	if v := viper.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := viper.GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	if v := viper.GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v := viper.GetInt("web-port"); v > 0 {
		cfg.Web.Port = v
	}
	if v := viper.GetString("mqtt-broker"); v != "" {
		cfg.MQTT.BrokerURL = v
	}
	if viper.GetBool("metrics") {
		cfg.Metrics.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

var version = "dev"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the servis version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("servis %s\n", version)
		},
	}
}
