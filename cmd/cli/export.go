// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/noi-techpark/go-sweep/export"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Convert a JSON file into CSV rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, _ := cmd.Flags().GetString("input")
		out, _ := cmd.Flags().GetString("output")
		path, _ := cmd.Flags().GetString("path")

		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		doc, err := export.ParseMultiJSON(string(data))
		if err != nil {
			return err
		}
		if path == "" && viper.GetString("catalog") != "" {
			if cat, err := openCatalog(); err == nil {
				if s, err := cat.Detect(cmd.Context(), doc); err == nil && s != nil {
					path = s.PathPattern
					fmt.Fprintf(os.Stderr, "using extraction path %s (%s)\n", s.PathPattern, s.Name)
				}
				cat.Close()
			}
		}

		rows, err := export.DocumentRows(doc, path, nil)
		if err != nil {
			return err
		}
		table, err := export.CSV{}.ToTabular(rows)
		if err != nil {
			return err
		}
		if out == "" || out == "-" {
			_, err = os.Stdout.Write(table)
			return err
		}
		return os.WriteFile(out, table, 0o644)
	},
}

func init() {
	exportCmd.Flags().StringP("input", "i", "", "JSON file (single document, one per line, or --- separated)")
	exportCmd.Flags().StringP("path", "p", "", "path of the rows (default: catalog detection, then first list)")
	exportCmd.Flags().StringP("output", "o", "-", "CSV file")
	_ = exportCmd.MarkFlagRequired("input")
}
