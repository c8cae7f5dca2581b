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

package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/shipctl/shipctl/pkg/health"
	"github.com/shipctl/shipctl/pkg/logger"
	"github.com/shipctl/shipctl/pkg/outcome"
	"github.com/shipctl/shipctl/pkg/preflight"
	"github.com/shipctl/shipctl/pkg/snapshot"
)

// ErrAborted is returned by Result.Err when a run stopped before completing all stages.
var ErrAborted = errors.New("run aborted")

// Mode selects the stages executed by a run.
type Mode string

const (
	FullMode    Mode = "full"
	ImagesMode  Mode = "images-only"
	ApplyMode   Mode = "apply-only"
	RestartMode Mode = "restart-only"
	StatusMode  Mode = "status"
	VerifyMode  Mode = "verify"
)

// Mutating returns true for the modes that change the cluster or the node.
func (m Mode) Mutating() bool {
	switch m {
	case FullMode, ImagesMode, ApplyMode, RestartMode:
		return true
	default:
		return false
	}
}

type Options struct {
	// SkipRestart disables the restart and readiness stages.
	SkipRestart bool

	// Force continues on a kube context mismatch without asking.
	Force bool

	// Images restricts the distribution to the named images.
	Images []string
}

type Preflight interface {
	Run(ctx context.Context, opts preflight.Options) []outcome.RunOutcome
}

type Distributor interface {
	Distribute(ctx context.Context, names []string) []outcome.RunOutcome
}

type Applier interface {
	Apply(ctx context.Context) []outcome.RunOutcome
}

type Restarter interface {
	Restart(ctx context.Context) []outcome.RunOutcome
}

type Poller interface {
	Wait(ctx context.Context) outcome.RunOutcome
}

type Verifier interface {
	Verify(ctx context.Context) []health.Result
}

type Snapshotter interface {
	Take(ctx context.Context) (*snapshot.Snapshot, error)
}

// Components are the stage implementations, only the ones required by the run mode must be set.
type Components struct {
	Preflight   Preflight
	Distributor Distributor
	Applier     Applier
	Restarter   Restarter
	Poller      Poller
	Verifier    Verifier
	Snapshotter Snapshotter
}

// Result holds everything a run produced.
type Result struct {
	Mode     Mode
	Report   *outcome.Report
	Probes   []health.Result
	Snapshot *snapshot.Snapshot
	Aborted  bool
}

// Failed returns true if the run was aborted or an outcome failed or timed out.
func (r *Result) Failed() bool {
	return r.Aborted || r.Report.Failed()
}

// Err summarises a failed run as an error.
func (r *Result) Err() error {
	if !r.Failed() {
		return nil
	}

	var failed []outcome.RunOutcome
	for _, o := range r.Report.Outcomes {
		if o.IsFailure() {
			failed = append(failed, o)
		}
	}

	if r.Aborted {
		if len(failed) > 0 {
			return fmt.Errorf("%w at stage %s: %s", ErrAborted, failed[0].Stage, failed[0])
		}
		return ErrAborted
	}
	return fmt.Errorf("%s run failed: %d of %d outcome(s) failed, first: %s",
		r.Mode, len(failed), len(r.Report.Outcomes), failed[0])
}

// Driver sequences the stages of a run and folds their outcomes into a Result.
type Driver struct {
	components Components
	log        *logger.Logger
}

func New(components Components, log *logger.Logger) *Driver {
	return &Driver{components: components, log: log}
}

// Run executes the stages of the given mode sequentially. Preflight runs
// first for mutating modes and any preflight failure aborts the run before
// the first mutation. A failed image distribution aborts the remaining
// stages, failures of later stages are accumulated.
//
// The node runtime and image source are only pinged in modes that import
// images. Apply-only and restart-only talk to the API server alone, so an
// unreachable node must not block them.
func (d *Driver) Run(ctx context.Context, mode Mode, opts Options) *Result {
	result := &Result{Mode: mode, Report: outcome.NewReport()}

	switch mode {
	case StatusMode:
		d.status(ctx, result)
		return result
	case VerifyMode:
		d.verify(ctx, result)
		return result
	case FullMode, ImagesMode, ApplyMode, RestartMode:
	default:
		result.Report.Add(outcome.Failed(outcome.PreflightStage, "mode", fmt.Errorf("unknown mode '%s'", mode)))
		result.Aborted = true
		return result
	}

	if !d.preflight(ctx, mode, opts, result) {
		result.Aborted = true
		return result
	}

	if mode == FullMode || mode == ImagesMode {
		if !d.images(ctx, opts, result) {
			result.Aborted = true
			d.takeSnapshot(ctx, result)
			return result
		}
		if mode == ImagesMode {
			return result
		}
	}

	if mode == FullMode || mode == ApplyMode {
		d.apply(ctx, result)
	}

	if opts.SkipRestart && mode != RestartMode {
		d.log.Warnf("restart skipped")
		result.Report.Add(outcome.Skipped(outcome.RestartStage, "workloads", "restart disabled"))
		result.Report.Add(outcome.Skipped(outcome.ReadinessStage, "pods", "restart disabled"))
	} else {
		d.restart(ctx, result)
	}

	if mode == FullMode {
		d.verify(ctx, result)
	}

	d.takeSnapshot(ctx, result)
	return result
}

func notConfigured(result *Result, stage outcome.Stage, component string) {
	result.Report.Add(outcome.Failed(stage, component, fmt.Errorf("%s is not configured", component)))
}

func (d *Driver) preflight(ctx context.Context, mode Mode, opts Options, result *Result) bool {
	if d.components.Preflight == nil {
		notConfigured(result, outcome.PreflightStage, "preflight")
		return false
	}

	d.log.Infof("running preflight checks")
	outcomes := d.components.Preflight.Run(ctx, preflight.Options{
		Force:      opts.Force,
		SkipImages: mode != FullMode && mode != ImagesMode,
	})
	result.Report.AddAll(outcomes)
	return !outcome.AnyFailed(outcomes)
}

func (d *Driver) images(ctx context.Context, opts Options, result *Result) bool {
	if d.components.Distributor == nil {
		notConfigured(result, outcome.ImagesStage, "distributor")
		return false
	}

	d.log.Infof("distributing images")
	outcomes := d.components.Distributor.Distribute(ctx, opts.Images)
	result.Report.AddAll(outcomes)
	if outcome.AnyFailed(outcomes) {
		d.log.Failuref("image distribution failed, aborting")
		return false
	}
	return true
}

func (d *Driver) apply(ctx context.Context, result *Result) {
	if d.components.Applier == nil {
		notConfigured(result, outcome.ApplyStage, "applier")
		return
	}

	d.log.Infof("applying resources")
	result.Report.AddAll(d.components.Applier.Apply(ctx))
}

func (d *Driver) restart(ctx context.Context, result *Result) {
	if d.components.Restarter == nil || d.components.Poller == nil {
		notConfigured(result, outcome.RestartStage, "restarter")
		return
	}

	d.log.Infof("restarting workloads")
	result.Report.AddAll(d.components.Restarter.Restart(ctx))

	d.log.Infof("waiting for pods to become ready")
	result.Report.Add(d.components.Poller.Wait(ctx))
}

func (d *Driver) verify(ctx context.Context, result *Result) {
	if d.components.Verifier == nil {
		notConfigured(result, outcome.VerifyStage, "verifier")
		return
	}

	d.log.Infof("verifying endpoints")
	result.Probes = d.components.Verifier.Verify(ctx)
	result.Report.Add(outcome.OK(outcome.VerifyStage, "endpoints",
		fmt.Sprintf("%d/%d healthy", health.Healthy(result.Probes), len(result.Probes))))
}

func (d *Driver) status(ctx context.Context, result *Result) {
	if d.components.Snapshotter == nil {
		notConfigured(result, outcome.StatusStage, "snapshotter")
		return
	}

	snap, err := d.components.Snapshotter.Take(ctx)
	if err != nil {
		result.Report.Add(outcome.Failed(outcome.StatusStage, "snapshot", err))
		return
	}
	result.Snapshot = snap
	result.Report.Add(outcome.OK(outcome.StatusStage, snap.Namespace, fmt.Sprintf("%d table(s)", len(snap.Tables))))
}

// takeSnapshot collects the post-run summary, errors are only logged.
func (d *Driver) takeSnapshot(ctx context.Context, result *Result) {
	if d.components.Snapshotter == nil {
		return
	}
	snap, err := d.components.Snapshotter.Take(ctx)
	if err != nil {
		d.log.Warnf("status snapshot failed: %s", err)
		return
	}
	result.Snapshot = snap
}
