package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"xferbench/internal/banner"
	"xferbench/internal/config"
	"xferbench/internal/runerr"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "xferbench",
	Short: "xferbench - transfer workload benchmark harness",
	Long: `
xferbench drives a money-transfer workload against a database or service
and reports statistically validated throughput and latency.

Runs execute in closed loop (fixed worker count, back to back) or open loop
(fixed arrival rate, coordinated-omission corrected). Every suite resets the
back-end before each run, checks balance conservation afterwards and writes
its artifacts to a timestamped run directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if runerr.Fatal(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file, TOML or YAML (default ./xferbench.toml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(runCmd, serveMockCmd, historyCmd, validateCmd)
}

func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)
	config.BindEnv(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("xferbench")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			fmt.Fprintln(os.Stderr, "error: reading config:", err)
			os.Exit(2)
		}
	}
}

// loadConfig resolves file, environment and flags into a validated Config.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}
