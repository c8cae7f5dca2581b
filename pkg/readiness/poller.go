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

package readiness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/shipctl/shipctl/pkg/config"
	"github.com/shipctl/shipctl/pkg/logger"
	"github.com/shipctl/shipctl/pkg/outcome"
)

// PodLister is the subset of the controller-runtime client used by the Poller.
type PodLister interface {
	List(ctx context.Context, list client.ObjectList, opts ...client.ListOption) error
}

// Poller waits for all pods in a namespace to become ready.
type Poller struct {
	lister    PodLister
	namespace string
	interval  time.Duration
	timeout   time.Duration
	clock     clock.Clock
	log       *logger.Logger
}

func NewPoller(lister PodLister, namespace string, opts config.Readiness, log *logger.Logger) *Poller {
	return &Poller{
		lister:    lister,
		namespace: namespace,
		interval:  opts.Interval.Duration,
		timeout:   opts.Timeout.Duration,
		clock:     clock.RealClock{},
		log:       log,
	}
}

// WithClock replaces the clock used for ticks and the timeout budget.
func (p *Poller) WithClock(c clock.Clock) *Poller {
	p.clock = c
	return p
}

// Wait lists the pods at every tick until none is blocking or the timeout elapses.
// A list error is logged and the query is repeated at the next tick.
// Queries and sleeps never run past the remaining budget, except the query
// made at the deadline itself which is bounded by one interval.
// The returned outcome is ok when ready, timed_out when the budget elapsed
// first and failed when the context is cancelled.
func (p *Poller) Wait(ctx context.Context) outcome.RunOutcome {
	start := p.clock.Now()
	var lastErr error
	var blocking []podStatus

	for {
		pods, expired, err := p.list(ctx, p.timeout-p.clock.Since(start))
		elapsed := p.clock.Since(start)

		if err != nil {
			lastErr = err
			p.log.Warnf("listing pods in %s failed: %s", p.namespace, err)
		} else {
			lastErr = nil
			blocking = blockingPods(pods)
			if len(blocking) == 0 {
				p.log.Successf("all pods in %s are ready (%s)", p.namespace, elapsed.Round(time.Millisecond))
				return outcome.OK(outcome.ReadinessStage, p.namespace, fmt.Sprintf("%d pod(s) ready", len(pods)))
			}
		}

		if elapsed >= p.timeout || expired {
			detail := fmt.Sprintf("timeout waiting for %d pod(s) after %s: %s",
				len(blocking), p.timeout, formatPods(blocking))
			if lastErr != nil {
				detail = fmt.Sprintf("%s, last error: %s", detail, lastErr)
			}
			p.log.Failuref("%s", detail)
			return outcome.TimedOut(outcome.ReadinessStage, p.namespace, detail)
		}

		if err == nil {
			p.log.Infof("waiting for %d pod(s) to become ready (%s elapsed)", len(blocking), elapsed.Round(time.Second))
		}

		select {
		case <-ctx.Done():
			err := fmt.Errorf("readiness wait cancelled: %w", ctx.Err())
			p.log.Failuref("%s", err)
			return outcome.Failed(outcome.ReadinessStage, p.namespace, err)
		case <-p.clock.After(p.sleep(elapsed)):
		}
	}
}

// sleep returns the shorter of the interval and the budget left.
func (p *Poller) sleep(elapsed time.Duration) time.Duration {
	if remaining := p.timeout - elapsed; remaining < p.interval {
		return remaining
	}
	return p.interval
}

// list queries the pods with a deadline of the remaining budget and reports
// whether that deadline cut the query short.
func (p *Poller) list(ctx context.Context, remaining time.Duration) ([]corev1.Pod, bool, error) {
	if remaining <= 0 {
		remaining = p.interval
	}
	qctx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	list := &corev1.PodList{}
	if err := p.lister.List(qctx, list, client.InNamespace(p.namespace)); err != nil {
		expired := errors.Is(qctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		return nil, expired, err
	}
	return list.Items, false, nil
}

type podStatus struct {
	name  string
	state PodState
}

func blockingPods(pods []corev1.Pod) []podStatus {
	var result []podStatus
	for i := range pods {
		state := Classify(&pods[i])
		if state.Blocking() {
			result = append(result, podStatus{name: pods[i].Name, state: state})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].name < result[j].name
	})
	return result
}

func formatPods(pods []podStatus) string {
	if len(pods) == 0 {
		return "no pod status available"
	}
	var parts []string
	for _, p := range pods {
		parts = append(parts, fmt.Sprintf("%s %s", p.name, p.state))
	}
	return strings.Join(parts, ", ")
}
