// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	sweep "github.com/noi-techpark/go-sweep"
	"github.com/noi-techpark/go-sweep/catalog"
	"github.com/noi-techpark/go-sweep/export"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage named extraction paths",
}

var catalogAddCmd = &cobra.Command{
	Use:   "add <name> <path>",
	Short: "Add an extraction path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := openCatalog()
		if err != nil {
			return err
		}
		defer cat.Close()

		desc, _ := cmd.Flags().GetString("description")
		s := catalog.Structure{Name: args[0], PathPattern: args[1], Description: desc}
		if example, _ := cmd.Flags().GetString("example"); example != "" {
			data, err := os.ReadFile(example)
			if err != nil {
				return fmt.Errorf("failed to read example: %w", err)
			}
			s.ExampleResponse = string(data)
		}
		id, err := cat.Add(cmd.Context(), s)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extraction paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := openCatalog()
		if err != nil {
			return err
		}
		defer cat.Close()

		all, _ := cmd.Flags().GetBool("all")
		list := cat.ListActive
		if all {
			list = cat.List
		}
		structures, err := list(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPATH\tACTIVE\tDESCRIPTION")
		for _, s := range structures {
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", s.ID, s.Name, s.PathPattern, s.Active, s.Description)
		}
		return w.Flush()
	},
}

var catalogRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove an extraction path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		cat, err := openCatalog()
		if err != nil {
			return err
		}
		defer cat.Close()
		return cat.Delete(cmd.Context(), id)
	},
}

var catalogToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Activate or deactivate an extraction path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		cat, err := openCatalog()
		if err != nil {
			return err
		}
		defer cat.Close()
		s, err := cat.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		s.Active = !s.Active
		if err := cat.Update(cmd.Context(), *s); err != nil {
			return err
		}
		fmt.Printf("%s active: %t\n", s.Name, s.Active)
		return nil
	},
}

var catalogDetectCmd = &cobra.Command{
	Use:   "detect <file.json>",
	Short: "Print the first extraction path matching a JSON document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		doc, err := export.ParseMultiJSON(string(data))
		if err != nil {
			return err
		}
		cat, err := openCatalog()
		if err != nil {
			return err
		}
		defer cat.Close()
		s, err := cat.Detect(cmd.Context(), doc)
		if err != nil {
			return err
		}
		if s == nil {
			return errors.New("no extraction path matches")
		}
		fmt.Printf("%s\t%s\n", s.Name, s.PathPattern)
		return nil
	},
}

func init() {
	catalogAddCmd.Flags().String("description", "", "free text description")
	catalogAddCmd.Flags().String("example", "", "file with an example response")
	catalogListCmd.Flags().Bool("all", false, "include inactive paths")

	catalogCmd.AddCommand(catalogAddCmd, catalogListCmd, catalogRemoveCmd, catalogToggleCmd, catalogDetectCmd)
}

func openCatalog() (*catalog.Catalog, error) {
	path := viper.GetString("catalog")
	if path == "" {
		path = catalog.DefaultFileName
	}
	cat, err := catalog.Open(path)
	if err != nil {
		return nil, err
	}
	cat.SetLogger(newLogger())
	cat.SetResolver(sweep.NewResolver())
	return cat, nil
}
