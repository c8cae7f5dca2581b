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

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply applies the resources in order, then restarts the workloads and waits for readiness.",
	RunE:  runApplyCmd,
}

var applyArgs runFlags

func init() {
	addRunFlags(applyCmd, &applyArgs, false)
	rootCmd.AddCommand(applyCmd)
}

func runApplyCmd(cmd *cobra.Command, args []string) error {
	return runMode(cmd, driver.ApplyMode, applyArgs.options())
}
