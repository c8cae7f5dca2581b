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
	"github.com/spf13/cobra"

	"github.com/shipctl/shipctl/pkg/driver"
)

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "All distributes the images, applies the resources, restarts the workloads and verifies the endpoints.",
	Example: `  # Deploy the whole stack
  shipctl all

  # Deploy after rebuilding the api image only
  shipctl all --image api

  # Apply without restarting the workloads
  shipctl all --no-restart
`,
	RunE: runAllCmd,
}

var allArgs runFlags

func init() {
	addRunFlags(allCmd, &allArgs, true)
	rootCmd.AddCommand(allCmd)
}

func runAllCmd(cmd *cobra.Command, args []string) error {
	return runMode(cmd, driver.FullMode, allArgs.options())
}
