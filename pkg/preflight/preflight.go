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

package preflight

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/Masterminds/semver/v3"
	"k8s.io/client-go/discovery"

	"github.com/shipctl/shipctl/pkg/logger"
	"github.com/shipctl/shipctl/pkg/outcome"
)

// Pinger checks that a remote dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Confirmer asks the user a yes/no question.
type Confirmer func(question string) (bool, error)

// Checks lists the preflight checks to run, nil or empty values disable a check.
type Checks struct {
	// Tools must be found in PATH.
	Tools []string

	// ExpectedContext is compared with the result of CurrentContext.
	ExpectedContext string
	CurrentContext  func() (string, error)

	// Cluster is queried for the server version.
	Cluster discovery.ServerVersionInterface

	// MinKubeVersion is a semver constraint for the server version, e.g. '>=1.22.0'.
	MinKubeVersion string

	// Node is the node runtime importer.
	Node Pinger

	// Source is the local image source.
	Source Pinger
}

type Options struct {
	// Force skips the confirmation prompt on a kube context mismatch.
	Force bool

	// SkipImages disables the node and image source checks.
	SkipImages bool
}

// Checker runs side-effect free checks before any mutation.
type Checker struct {
	checks   Checks
	confirm  Confirmer
	lookPath func(string) (string, error)
	log      *logger.Logger
}

func NewChecker(checks Checks, confirm Confirmer, log *logger.Logger) *Checker {
	if confirm == nil {
		confirm = func(string) (bool, error) { return false, nil }
	}
	return &Checker{
		checks:   checks,
		confirm:  confirm,
		lookPath: exec.LookPath,
		log:      log,
	}
}

// Run executes every configured check and returns one outcome per check.
// The run must be aborted if any outcome failed. SkipImages leaves out the
// node and image source pings for modes that don't distribute images.
func (c *Checker) Run(ctx context.Context, opts Options) []outcome.RunOutcome {
	var results []outcome.RunOutcome
	add := func(o outcome.RunOutcome) {
		if o.IsFailure() {
			c.log.Failuref("preflight %s: %s", o.Subject, o.Detail)
		}
		results = append(results, o)
	}

	for _, tool := range c.checks.Tools {
		add(c.checkTool(tool))
	}

	if c.checks.Cluster != nil {
		add(c.checkCluster())
	}

	if c.checks.CurrentContext != nil && c.checks.ExpectedContext != "" {
		add(c.checkContext(opts.Force))
	}

	if !opts.SkipImages {
		if c.checks.Node != nil {
			add(c.ping(ctx, "node", c.checks.Node))
		}
		if c.checks.Source != nil {
			add(c.ping(ctx, "image-source", c.checks.Source))
		}
	}

	if !outcome.AnyFailed(results) {
		c.log.Successf("preflight checks passed")
	}
	return results
}

func (c *Checker) checkTool(tool string) outcome.RunOutcome {
	subject := "tool/" + tool
	path, err := c.lookPath(tool)
	if err != nil {
		return outcome.Failed(outcome.PreflightStage, subject, fmt.Errorf("%s not found in PATH", tool))
	}
	return outcome.OK(outcome.PreflightStage, subject, path)
}

func (c *Checker) checkCluster() outcome.RunOutcome {
	info, err := c.checks.Cluster.ServerVersion()
	if err != nil {
		return outcome.Failed(outcome.PreflightStage, "cluster", fmt.Errorf("cluster API unreachable: %w", err))
	}

	if c.checks.MinKubeVersion == "" {
		return outcome.OK(outcome.PreflightStage, "cluster", info.GitVersion)
	}

	constraint, err := semver.NewConstraint(c.checks.MinKubeVersion)
	if err != nil {
		return outcome.Failed(outcome.PreflightStage, "cluster",
			fmt.Errorf("invalid minKubeVersion '%s': %w", c.checks.MinKubeVersion, err))
	}

	ver, err := semver.NewVersion(info.GitVersion)
	if err != nil {
		return outcome.Failed(outcome.PreflightStage, "cluster",
			fmt.Errorf("cannot parse server version '%s': %w", info.GitVersion, err))
	}

	// compare pre-releases such as v1.25.0-rc.1 by their core version
	core, _ := ver.SetPrerelease("")
	if !constraint.Check(&core) {
		return outcome.Failed(outcome.PreflightStage, "cluster",
			fmt.Errorf("server version %s does not satisfy %s", info.GitVersion, c.checks.MinKubeVersion))
	}
	return outcome.OK(outcome.PreflightStage, "cluster", info.GitVersion)
}

func (c *Checker) checkContext(force bool) outcome.RunOutcome {
	current, err := c.checks.CurrentContext()
	if err != nil {
		return outcome.Failed(outcome.PreflightStage, "context", fmt.Errorf("reading kubeconfig failed: %w", err))
	}

	if current == c.checks.ExpectedContext {
		return outcome.OK(outcome.PreflightStage, "context", current)
	}

	c.log.Warnf("current kube context '%s' differs from the expected context '%s'", current, c.checks.ExpectedContext)
	if force {
		return outcome.OK(outcome.PreflightStage, "context", fmt.Sprintf("%s (forced)", current))
	}

	ok, err := c.confirm(fmt.Sprintf("Continue with context '%s'", current))
	if err != nil {
		return outcome.Failed(outcome.PreflightStage, "context", fmt.Errorf("confirmation failed: %w", err))
	}
	if !ok {
		return outcome.Failed(outcome.PreflightStage, "context",
			fmt.Errorf("context '%s' not confirmed, expected '%s'", current, c.checks.ExpectedContext))
	}
	return outcome.OK(outcome.PreflightStage, "context", fmt.Sprintf("%s (confirmed)", current))
}

func (c *Checker) ping(ctx context.Context, subject string, p Pinger) outcome.RunOutcome {
	if err := p.Ping(ctx); err != nil {
		return outcome.Failed(outcome.PreflightStage, subject, err)
	}
	return outcome.OK(outcome.PreflightStage, subject, "reachable")
}
