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

	"github.com/fluxcd/pkg/ssa"
	"github.com/spf13/cobra"

	"github.com/shipctl/shipctl/pkg/apply"
	"github.com/shipctl/shipctl/pkg/driver"
	"github.com/shipctl/shipctl/pkg/health"
	"github.com/shipctl/shipctl/pkg/images"
	"github.com/shipctl/shipctl/pkg/manifest"
	"github.com/shipctl/shipctl/pkg/preflight"
	"github.com/shipctl/shipctl/pkg/readiness"
	"github.com/shipctl/shipctl/pkg/restart"
	"github.com/shipctl/shipctl/pkg/snapshot"
)

// newDriver wires the components required by the given mode,
// verify runs without a kubeconfig.
func newDriver(cmd *cobra.Command, mode driver.Mode) (*driver.Driver, error) {
	var c driver.Components

	if mode == driver.FullMode || mode == driver.VerifyMode {
		c.Verifier = health.NewVerifier(cfg.Probes, cfg.Health.Timeout.Duration, log)
	}
	if mode == driver.VerifyMode {
		return driver.New(c, log), nil
	}

	kubeClient, err := newKubeClient(kubeconfigArgs)
	if err != nil {
		return nil, err
	}
	c.Snapshotter = snapshot.NewTaker(kubeClient, cfg.Namespace)
	if mode == driver.StatusMode {
		return driver.New(c, log), nil
	}

	discoveryClient, err := kubeconfigArgs.ToDiscoveryClient()
	if err != nil {
		return nil, fmt.Errorf("discovery client initialization failed: %w", err)
	}

	checks := preflight.Checks{
		Tools:           cfg.RequiredTools,
		ExpectedContext: cfg.ExpectedContext,
		CurrentContext:  currentContext,
		Cluster:         discoveryClient,
		MinKubeVersion:  cfg.MinKubeVersion,
	}

	if mode == driver.FullMode || mode == driver.ImagesMode {
		source, err := images.NewSource(*cfg.Images)
		if err != nil {
			return nil, err
		}
		importer, err := images.NewImporter(*cfg.Node)
		if err != nil {
			return nil, err
		}
		checks.Source = source
		checks.Node = importer
		c.Distributor = images.NewDistributor(source, importer, *cfg.Images, log)
	}

	if mode == driver.FullMode || mode == driver.ApplyMode {
		statusPoller, err := newKubeStatusPoller(kubeconfigArgs)
		if err != nil {
			return nil, fmt.Errorf("status poller init failed: %w", err)
		}

		resMgr := ssa.NewResourceManager(kubeClient, statusPoller, ssa.Owner{
			Field: cfg.FieldManager.Name,
			Group: cfg.FieldManager.Group,
		})

		identities, err := manifest.ParseAgeIdentities(cfg.IdentityFile)
		if err != nil {
			return nil, err
		}

		loader := manifest.NewLoader(cfg.Namespace, identities).WithRESTMapper(kubeClient.RESTMapper())
		c.Applier = apply.NewApplier(resMgr, loader, cfg.Resources, cfg.Namespace, log)
	}

	c.Restarter = restart.NewRestarter(kubeClient, cfg.Workloads, cfg.Restart.Retry, log)
	c.Poller = readiness.NewPoller(kubeClient, cfg.Namespace, *cfg.Readiness, log)
	c.Preflight = preflight.NewChecker(checks, confirmPrompt(cmd.InOrStdin(), cmd.ErrOrStderr()), log)

	return driver.New(c, log), nil
}
