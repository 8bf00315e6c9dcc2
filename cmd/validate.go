package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"xferbench/internal/cli"
	"xferbench/internal/sampler"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without running anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		w := cfg.Workload
		if _, err := sampler.New(w.NumAccounts, w.ZipfianExponent, w.MinTransferAmount, w.MaxTransferAmount); err != nil {
			return err
		}
		cli.PrintHeader(os.Stdout, cfg)
		if f := viper.ConfigFileUsed(); f != "" {
			fmt.Printf("config file: %s\n", f)
		}
		fmt.Println("configuration is valid")
		return nil
	},
}
