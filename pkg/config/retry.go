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

package config

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
)

// RetryPolicy describes how many times an operation is attempted
// and how long to wait between attempts.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt, a value of 1 disables retries.
	MaxAttempts int `json:"maxAttempts,omitempty"`

	// Interval is the delay before the second attempt.
	Interval metav1.Duration `json:"interval,omitempty"`

	// Factor multiplies the interval after each attempt.
	Factor float64 `json:"factor,omitempty"`
}

func (p *RetryPolicy) setDefaults() {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Interval.Duration == 0 {
		p.Interval = metav1.Duration{Duration: time.Second}
	}
	if p.Factor < 1 {
		p.Factor = 2
	}
}

// Backoff converts the policy to an apimachinery backoff.
func (p RetryPolicy) Backoff() wait.Backoff {
	steps := p.MaxAttempts
	if steps < 1 {
		steps = 1
	}
	return wait.Backoff{
		Steps:    steps,
		Duration: p.Interval.Duration,
		Factor:   p.Factor,
		Jitter:   0.1,
	}
}
