// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	sweep "github.com/noi-techpark/go-sweep"
	"github.com/spf13/cobra"
)

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Parse a curl command and list its addressable parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("command")
		text, err := readCommand(file)
		if err != nil {
			return err
		}
		parser := sweep.NewParser()
		parser.SetLogger(newLogger())
		t, err := parser.Parse(text)
		if err != nil {
			return err
		}

		fmt.Printf("%s %s\n", t.Method, t.URL)
		if t.Download {
			fmt.Printf("download: yes (%s)\n", t.FileExtension)
		}
		params := sweep.ExtractParameters(t)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tVALUE")
		for _, p := range params.Paths() {
			fmt.Fprintf(w, "%s\t%s\n", p, params[p])
		}
		return w.Flush()
	},
}

func init() {
	paramsCmd.Flags().StringP("command", "c", "-", "file holding the curl command (- for stdin)")
}

func readCommand(file string) (string, error) {
	var data []byte
	var err error
	if file == "" || file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read command: %w", err)
	}
	return string(data), nil
}
