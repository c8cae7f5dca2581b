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

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart triggers a rolling restart of the workloads and waits for readiness.",
	RunE:  runRestartCmd,
}

var restartArgs runFlags

func init() {
	restartCmd.Flags().BoolVar(&restartArgs.force, "force", false,
		"Continue without confirmation when the kube context differs from the expected one.")
	rootCmd.AddCommand(restartCmd)
}

func runRestartCmd(cmd *cobra.Command, args []string) error {
	return runMode(cmd, driver.RestartMode, restartArgs.options())
}
