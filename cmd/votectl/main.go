package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/votesphere/pkg/config"
	"github.com/yourusername/votesphere/pkg/logging"
	"github.com/yourusername/votesphere/pkg/metrics"
)

var (
	configFile  string
	envFiles    []string
	metricsAddr string
	logLevel    string
	assumeYes   bool

	cfg       *config.Config
	log       *logrus.Logger
	collector *metrics.Collector
)

var rootCmd = &cobra.Command{
	Use:           "votectl",
	Short:         "CLI for the on-chain voting program",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}
		var err error
		cfg, err = config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		log, err = logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		collector = metrics.NewCollector("votesphere")
		if metricsAddr != "" {
			go serveMetrics(metricsAddr)
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		// If no arguments passed, we should fallback to help
		cmd.HelpFunc()(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, ".env files to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address while the command runs")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Approve wallet prompts without asking")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(deriveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(createPollCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(voteCmd)
	rootCmd.AddCommand(pollsCmd)
	rootCmd.AddCommand(candidatesCmd)
	rootCmd.AddCommand(hasVotedCmd)
	rootCmd.AddCommand(recheckCmd)
	rootCmd.AddCommand(airdropCmd)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	log.WithField("addr", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("metrics server stopped")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
