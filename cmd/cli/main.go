// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	sweep "github.com/noi-techpark/go-sweep"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:           "sweep",
	Short:         "Replay a curl command across a list of parameter values",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	v := viper.GetViper()
	v.SetDefault("verbose", false)
	v.SetDefault("catalog", "")

	// SWEEP_VERBOSE, SWEEP_CATALOG, ...
	v.SetEnvPrefix("SWEEP")
	v.AutomaticEnv()

	rootCmd.PersistentFlags().Bool("verbose", v.GetBool("verbose"), "debug logging in human readable form")
	rootCmd.PersistentFlags().String("catalog", v.GetString("catalog"), "path to the extraction path catalog (sqlite)")
	_ = v.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = v.BindPFlag("catalog", rootCmd.PersistentFlags().Lookup("catalog"))

	rootCmd.AddCommand(paramsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(exportCmd)
}

func newLogger() sweep.Logger {
	if viper.GetBool("verbose") {
		return sweep.NewDevelopmentLogger()
	}
	return sweep.NewDefaultLogger()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
