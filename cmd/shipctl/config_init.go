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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shipctl/shipctl/pkg/config"
)

var configInit = &cobra.Command{
	Use:   "init",
	Short: "Init writes a config file with the default stack layout at the '--config' path.",
	RunE:  runConfigInitCmd,
}

type configInitFlags struct {
	overwrite bool
}

var configInitArgs configInitFlags

func init() {
	configInit.Flags().BoolVar(&configInitArgs.overwrite, "overwrite", false,
		"Replace the config file if it exists.")
	configCmd.AddCommand(configInit)
}

func runConfigInitCmd(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(rootArgs.configPath); err == nil && !configInitArgs.overwrite {
		return fmt.Errorf("%s already exists, use --overwrite to replace it", rootArgs.configPath)
	}

	c := config.NewConfig()
	if err := c.Write(rootArgs.configPath); err != nil {
		return err
	}

	log.Successf("config written to %s", rootArgs.configPath)
	return nil
}
