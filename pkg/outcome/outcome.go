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

package outcome

import "fmt"

// Stage identifies the orchestration step that produced an outcome.
type Stage string

const (
	PreflightStage Stage = "preflight"
	ImagesStage    Stage = "images"
	ApplyStage     Stage = "apply"
	RestartStage   Stage = "restart"
	ReadinessStage Stage = "readiness"
	VerifyStage    Stage = "verify"
	StatusStage    Stage = "status"
)

// Status is the result of a single component invocation.
type Status string

const (
	OKStatus       Status = "ok"
	FailedStatus   Status = "failed"
	TimedOutStatus Status = "timed_out"
	SkippedStatus  Status = "skipped"
)

// RunOutcome records what happened to one subject of a stage.
// Outcomes are values and are never mutated once created.
type RunOutcome struct {
	Stage   Stage
	Subject string
	Status  Status
	Detail  string
}

func (o RunOutcome) String() string {
	if o.Detail == "" {
		return fmt.Sprintf("%s %s %s", o.Stage, o.Subject, o.Status)
	}
	return fmt.Sprintf("%s %s %s: %s", o.Stage, o.Subject, o.Status, o.Detail)
}

// IsFailure returns true for the statuses that fail a run.
func (o RunOutcome) IsFailure() bool {
	return o.Status == FailedStatus || o.Status == TimedOutStatus
}

func OK(stage Stage, subject, detail string) RunOutcome {
	return RunOutcome{Stage: stage, Subject: subject, Status: OKStatus, Detail: detail}
}

func Failed(stage Stage, subject string, err error) RunOutcome {
	return RunOutcome{Stage: stage, Subject: subject, Status: FailedStatus, Detail: err.Error()}
}

func TimedOut(stage Stage, subject, detail string) RunOutcome {
	return RunOutcome{Stage: stage, Subject: subject, Status: TimedOutStatus, Detail: detail}
}

func Skipped(stage Stage, subject, detail string) RunOutcome {
	return RunOutcome{Stage: stage, Subject: subject, Status: SkippedStatus, Detail: detail}
}

// Report holds the outcomes of a run in the order they were produced.
type Report struct {
	Outcomes []RunOutcome
}

func NewReport() *Report {
	return &Report{Outcomes: []RunOutcome{}}
}

func (r *Report) Add(o RunOutcome) {
	r.Outcomes = append(r.Outcomes, o)
}

func (r *Report) AddAll(o []RunOutcome) {
	r.Outcomes = append(r.Outcomes, o...)
}

// Failed returns true if at least one outcome is failed or timed out.
// Skipped outcomes never affect the verdict.
func (r *Report) Failed() bool {
	for _, o := range r.Outcomes {
		if o.IsFailure() {
			return true
		}
	}
	return false
}

// Stage returns the outcomes recorded for the given stage.
func (r *Report) Stage(stage Stage) []RunOutcome {
	var result []RunOutcome
	for _, o := range r.Outcomes {
		if o.Stage == stage {
			result = append(result, o)
		}
	}
	return result
}

// Count returns the number of outcomes with the given status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// AnyFailed returns true if one of the given outcomes is failed or timed out.
func AnyFailed(outcomes []RunOutcome) bool {
	for _, o := range outcomes {
		if o.IsFailure() {
			return true
		}
	}
	return false
}
