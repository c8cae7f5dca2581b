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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/shipctl/shipctl/pkg/config"
	"github.com/shipctl/shipctl/pkg/logger"
)

var VERSION = "0.1.0-dev.0"

const PROJECT = "shipctl"

var rootCmd = &cobra.Command{
	Use:           PROJECT,
	Version:       VERSION,
	SilenceUsage:  true,
	SilenceErrors: true,
	Short:         "A command line utility to ship a containerized application stack to a single-node Kubernetes cluster.",
	Long: `Shipctl deploys a multi-service application to a local Kubernetes node.

Run the whole deployment, images to endpoint verification:

- shipctl all [--image <name>] [--no-restart] [--force]

Run a single stage:

- shipctl images [--image <name>]
- shipctl apply [--no-restart] [--force]
- shipctl restart [--force]

Inspect the deployed stack:

- shipctl status
- shipctl verify

Manage the project config:

- shipctl config init
- shipctl config view
`,
	RunE: runAllCmd,
}

type rootFlags struct {
	timeout    time.Duration
	configPath string
}

var (
	rootArgs = rootFlags{}
	log      = logger.New(os.Stderr)
	cfg      = config.NewConfig()
	cfgErr   error
)

var kubeconfigArgs = genericclioptions.NewConfigFlags(false)

func init() {
	rootCmd.PersistentFlags().DurationVar(&rootArgs.timeout, "timeout", 15*time.Minute,
		"The length of time to wait before giving up on the current operation.")
	rootCmd.PersistentFlags().StringVar(&rootArgs.configPath, "config", config.DefaultConfigFile,
		"Path to the project config file.")

	kubeconfigArgs.Timeout = nil
	kubeconfigArgs.Namespace = nil
	kubeconfigArgs.AddFlags(rootCmd.PersistentFlags())

	namespace := ""
	kubeconfigArgs.Namespace = &namespace
	rootCmd.PersistentFlags().StringVarP(kubeconfigArgs.Namespace, "namespace", "n", *kubeconfigArgs.Namespace,
		"Override the application namespace set in config.")

	addRunFlags(rootCmd, &allArgs, true)

	rootCmd.DisableAutoGenTag = true
	rootCmd.SetOut(os.Stdout)

	cobra.OnInitialize(loadConfig)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Failuref("%s", err)
		stop()
		os.Exit(1)
	}
	stop()
}

func loadConfig() {
	c, err := config.Read(rootArgs.configPath)
	if err != nil {
		cfgErr = fmt.Errorf("loading the config failed, error: %w", err)
		return
	}

	if kubeconfigArgs.Namespace != nil && *kubeconfigArgs.Namespace != "" {
		c.SetNamespace(*kubeconfigArgs.Namespace)
	}
	cfg, cfgErr = c, nil
}
