// Package cmd implements the crawlcoord operator command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joho/godotenv"
)

var rootCmd = &cobra.Command{
	Use:   "crawlcoord",
	Short: "Operator CLI for the distributed crawl coordinator",
	Long:  `crawlcoord manages domain claims, crawl runs, and priority scheduling for a fleet of crawl workers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command with a fresh background context.
func Execute() error {
	_ = godotenv.Load()
	_ = rootCmd.ParseFlags(os.Args[1:])

	if err := initConfig(); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: .env plus environment variables)")
	rootCmd.PersistentFlags().Bool("yes", false, "skip interactive confirmation for destructive operator actions")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("crawlcoord version 0.1.0")
		},
	})

	rootCmd.AddCommand(newReleaseStuckClaimsCommand())
	rootCmd.AddCommand(newCleanupStaleRunsCommand())
	rootCmd.AddCommand(newRecalculatePrioritiesCommand())
	rootCmd.AddCommand(newDomainResetCommand())
	rootCmd.AddCommand(newDomainStatusCommand())
	rootCmd.AddCommand(newDomainInfoCommand())
	rootCmd.AddCommand(newBackfillDomainsCommand())
	rootCmd.AddCommand(newCrawlCommand())
	rootCmd.AddCommand(newListRunsCommand())
}

func initConfig() error {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}
