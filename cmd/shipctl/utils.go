/*
Copyright 2022 The shipctl Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/shipctl/shipctl/pkg/driver"
	"github.com/shipctl/shipctl/pkg/preflight"
)

type runFlags struct {
	noRestart bool
	force     bool
	images    []string
}

func addRunFlags(cmd *cobra.Command, args *runFlags, withImages bool) {
	cmd.Flags().BoolVar(&args.noRestart, "no-restart", false,
		"Skip the rolling restart and the readiness wait.")
	cmd.Flags().BoolVar(&args.force, "force", false,
		"Continue without confirmation when the kube context differs from the expected one.")
	if withImages {
		cmd.Flags().StringArrayVar(&args.images, "image", nil,
			"Distribute only the named image, can be repeated.")
	}
}

func (f runFlags) options() driver.Options {
	return driver.Options{
		SkipRestart: f.noRestart,
		Force:       f.force,
		Images:      f.images,
	}
}

// runMode executes a driver run and prints the summary to stdout,
// a failed run is returned as an error.
func runMode(cmd *cobra.Command, mode driver.Mode, opts driver.Options) error {
	if cfgErr != nil {
		return cfgErr
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), rootArgs.timeout)
	defer cancel()

	d, err := newDriver(cmd, mode)
	if err != nil {
		return err
	}

	result := d.Run(ctx, mode, opts)
	printSummary(cmd.OutOrStdout(), result)

	if err := result.Err(); err != nil {
		return err
	}
	if mode.Mutating() {
		log.Successf("%s run completed", mode)
	}
	return nil
}

func printSummary(w io.Writer, result *driver.Result) {
	if len(result.Report.Outcomes) > 0 && result.Mode != driver.StatusMode {
		var rows [][]string
		for _, o := range result.Report.Outcomes {
			rows = append(rows, []string{string(o.Stage), o.Subject, string(o.Status), o.Detail})
		}
		printTable(w, []string{"stage", "subject", "status", "detail"}, rows)
	}

	if result.Snapshot != nil {
		for _, table := range result.Snapshot.Tables {
			if len(table.Rows) == 0 {
				continue
			}
			fmt.Fprintf(w, "\n%s\n", strings.ToUpper(table.Title))
			printTable(w, table.Header, table.Rows)
		}
	}

	if len(result.Probes) > 0 {
		var rows [][]string
		for _, p := range result.Probes {
			status := fmt.Sprintf("%d", p.StatusCode)
			if p.Err != nil {
				status = p.Err.Error()
			}
			health := "unhealthy"
			if p.Healthy {
				health = "healthy"
			}
			rows = append(rows, []string{p.Label, p.URL, status, health})
		}
		fmt.Fprintf(w, "\nENDPOINTS\n")
		printTable(w, []string{"endpoint", "url", "status", "health"}, rows)
	}
}

func printTable(writer io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(writer)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}

// confirmPrompt asks on out and reads the answer from in, only 'y' and 'yes' confirm.
func confirmPrompt(in io.Reader, out io.Writer) preflight.Confirmer {
	return func(question string) (bool, error) {
		fmt.Fprintf(out, "%s? [y/N] ", question)
		answer, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes", nil
	}
}
