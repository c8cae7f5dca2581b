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

import (
	"errors"
	"testing"

	. "github.com/onsi/gomega"
)

func TestReport_Failed(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []RunOutcome
		want     bool
	}{
		{
			name: "empty report succeeds",
			want: false,
		},
		{
			name: "ok and skipped succeed",
			outcomes: []RunOutcome{
				OK(ImagesStage, "api", ""),
				Skipped(RestartStage, "deployment/ui", "not found"),
			},
			want: false,
		},
		{
			name: "failed outcome fails",
			outcomes: []RunOutcome{
				OK(ApplyStage, "namespace", ""),
				Failed(ApplyStage, "postgres", errors.New("invalid")),
			},
			want: true,
		},
		{
			name: "timed out outcome fails",
			outcomes: []RunOutcome{
				OK(RestartStage, "deployment/api", ""),
				TimedOut(ReadinessStage, "stack", "3 pods not ready"),
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			r := NewReport()
			r.AddAll(tt.outcomes)
			g.Expect(r.Failed()).To(Equal(tt.want))
			g.Expect(AnyFailed(tt.outcomes)).To(Equal(tt.want))
		})
	}
}

func TestReport_Stage(t *testing.T) {
	g := NewWithT(t)

	r := NewReport()
	r.Add(OK(ApplyStage, "namespace", "created"))
	r.Add(Failed(ApplyStage, "ingress", errors.New("denied")))
	r.Add(OK(VerifyStage, "ui", ""))

	g.Expect(r.Stage(ApplyStage)).To(HaveLen(2))
	g.Expect(r.Stage(RestartStage)).To(BeEmpty())
	g.Expect(r.Count(OKStatus)).To(Equal(2))
	g.Expect(r.Count(FailedStatus)).To(Equal(1))
	g.Expect(r.Outcomes[1].String()).To(Equal("apply ingress failed: denied"))
}
