/*******************************************************************************
 * Copyright (c) 2026 Genome Research Ltd.
 *
 * Permission is hereby granted, free of charge, to any person obtaining
 * a copy of this software and associated documentation files (the
 * "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish,
 * distribute, sublicense, and/or sell copies of the Software, and to
 * permit persons to whom the Software is furnished to do so, subject to
 * the following conditions:
 *
 * The above copyright notice and this permission notice shall be included
 * in all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
 * EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
 * MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY
 * CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT,
 * TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 ******************************************************************************/

package cmd

import (
	"os"
	"strconv"

	"github.com/dustin/go-humanize" //nolint:misspell
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/wheresmyhair/LLaMA-Factory-localsft/registry"
)

// options for this cmd.
var (
	listRanking  bool
	listDataDir  string
	listRegistry string
)

// listCmd represents the list command.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the registered datasets",
	Long: `List the registered datasets.

Shows a table of the datasets in the registry of the data directory, with the
files they are stored in and the size of those files. Files missing from the
data directory are shown as "missing".

Ranking (paired) datasets are only shown if --ranking is given.`,
	Run: func(_ *cobra.Command, _ []string) {
		setCLIFormat()
		loadDotEnv()

		settings, err := dataSettingsFromEnvAndFlags(listDataDir, listRegistry, "")
		if err != nil {
			die("%s", err)
		}

		entries, err := settings.registry().List(listRanking)
		if err != nil {
			die("failed to read registry %s: %s", settings.registry().Path(), err)
		}

		if len(entries) == 0 {
			warn("no datasets registered in %s", settings.registry().Path())

			return
		}

		printEntries(entries)
	},
}

// printEntries tabulates the given entries to STDOUT.
func printEntries(entries []registry.Entry) {
	table := tablewriter.NewWriter(os.Stdout)

	if listRanking {
		table.SetHeader([]string{"Name", "File", "Size", "Ranking"})
	} else {
		table.SetHeader([]string{"Name", "File", "Size"})
	}

	for _, e := range entries {
		table.Append(entryColumns(e))
	}

	table.Render()
}

// entryColumns returns the column data to display in the table for a given
// row.
func entryColumns(e registry.Entry) []string {
	size := "missing"
	if e.Size >= 0 {
		size = humanize.IBytes(uint64(e.Size))
	}

	cols := []string{e.Name, e.FileName, size}

	if listRanking {
		cols = append(cols, strconv.FormatBool(e.Ranking))
	}

	return cols
}

func init() {
	RootCmd.AddCommand(listCmd)

	// flags specific to this sub-command
	listCmd.Flags().BoolVar(&listRanking, "ranking", false, "include ranking datasets")
	listCmd.Flags().StringVarP(&listDataDir, "data", "d", "",
		"data directory holding datasets and the registry (default $"+envDataDir+")")
	listCmd.Flags().StringVarP(&listRegistry, "registry", "r", "",
		"basename of the registry file in the data directory (default $"+envRegistry+" or dataset_info.json)")
}
