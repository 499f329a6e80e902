package main

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "meshd",
	Short: "mistnet overlay node",
}

// Execute runs the CLI entry point.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("listen-addr", "", "TCP listen address (host:port)")
	rootCmd.PersistentFlags().String("data-dir", "", "record store persistence directory")
	rootCmd.PersistentFlags().String("peer-list", "", "line-delimited peer list file")
	rootCmd.PersistentFlags().String("log-level", "info", "logrus level")
	rootCmd.PersistentFlags().String("ops-addr", "", "debug/ops HTTP listen address; empty disables it")

	_ = viper.BindPFlag("listen_addr", rootCmd.PersistentFlags().Lookup("listen-addr"))
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("peer_list", rootCmd.PersistentFlags().Lookup("peer-list"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("ops_addr", rootCmd.PersistentFlags().Lookup("ops-addr"))

	rootCmd.AddCommand(startCmd, stopCmd, peersCmd)
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetConfigName("meshd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.ReadInConfig() // absence of a config file is not fatal
}
