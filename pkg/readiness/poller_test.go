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
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clocktesting "k8s.io/utils/clock/testing"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/shipctl/shipctl/pkg/config"
	"github.com/shipctl/shipctl/pkg/logger"
	"github.com/shipctl/shipctl/pkg/outcome"
)

// scriptedLister returns one step of the script per call and repeats the last step.
type scriptedLister struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	pods []corev1.Pod
	err  error
}

func (l *scriptedLister) List(_ context.Context, list client.ObjectList, _ ...client.ListOption) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.steps[len(l.steps)-1]
	if l.calls < len(l.steps) {
		s = l.steps[l.calls]
	}
	l.calls++

	if s.err != nil {
		return s.err
	}
	list.(*corev1.PodList).Items = s.pods
	return nil
}

func (l *scriptedLister) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

const interval = time.Second

func readinessConfig(timeout time.Duration) config.Readiness {
	return config.Readiness{
		Interval: metav1.Duration{Duration: interval},
		Timeout:  metav1.Duration{Duration: timeout},
	}
}

// waitWithFakeClock runs the poller and advances the fake clock by tick
// while the poller sleeps.
func waitWithFakeClock(ctx context.Context, p *Poller, fc *clocktesting.FakeClock, tick time.Duration) outcome.RunOutcome {
	done := make(chan outcome.RunOutcome, 1)
	go func() {
		done <- p.Wait(ctx)
	}()

	for {
		select {
		case result := <-done:
			return result
		default:
		}
		if fc.HasWaiters() {
			fc.Step(tick)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestPoller_Ready(t *testing.T) {
	g := NewWithT(t)

	lister := &scriptedLister{steps: []step{
		{pods: []corev1.Pod{newPod("postgres-0", corev1.PodPending, false), newPod("api-1", corev1.PodRunning, false)}},
		{pods: []corev1.Pod{newPod("postgres-0", corev1.PodRunning, true), newPod("api-1", corev1.PodRunning, false)}},
		{pods: []corev1.Pod{
			newPod("postgres-0", corev1.PodRunning, true),
			newPod("api-1", corev1.PodRunning, true),
			newPod("schema-init-x", corev1.PodSucceeded, false),
		}},
	}}

	fc := clocktesting.NewFakeClock(time.Now())
	p := NewPoller(lister, "stack", readinessConfig(120*time.Second), logger.Discard()).WithClock(fc)

	result := waitWithFakeClock(context.Background(), p, fc, interval)
	g.Expect(result.Status).To(Equal(outcome.OKStatus))
	g.Expect(result.Subject).To(Equal("stack"))
	g.Expect(lister.Calls()).To(Equal(3))
}

func TestPoller_EmptyNamespace(t *testing.T) {
	g := NewWithT(t)

	lister := &scriptedLister{steps: []step{{}}}
	fc := clocktesting.NewFakeClock(time.Now())
	p := NewPoller(lister, "stack", readinessConfig(10*time.Second), logger.Discard()).WithClock(fc)

	result := waitWithFakeClock(context.Background(), p, fc, interval)
	g.Expect(result.Status).To(Equal(outcome.OKStatus))
	g.Expect(lister.Calls()).To(Equal(1))
}

func TestPoller_TimedOut(t *testing.T) {
	g := NewWithT(t)

	lister := &scriptedLister{steps: []step{
		{pods: []corev1.Pod{
			newPod("api-1", corev1.PodRunning, true),
			newPod("ui-1", corev1.PodRunning, false),
			newPod("postgres-0", corev1.PodPending, false),
		}},
	}}

	start := time.Now()
	fc := clocktesting.NewFakeClock(start)
	p := NewPoller(lister, "stack", readinessConfig(10*interval), logger.Discard()).WithClock(fc)

	result := waitWithFakeClock(context.Background(), p, fc, interval)
	g.Expect(result.Status).To(Equal(outcome.TimedOutStatus))
	g.Expect(result.Detail).To(ContainSubstring("2 pod(s)"))
	g.Expect(result.Detail).To(ContainSubstring("postgres-0 Pending, ui-1 NotReady"))

	// one query at every tick from 0 to 10 intervals
	g.Expect(lister.Calls()).To(Equal(11))
	g.Expect(fc.Since(start)).To(Equal(10 * interval))
}

func TestPoller_ReadyAtDeadline(t *testing.T) {
	g := NewWithT(t)

	notReady := step{pods: []corev1.Pod{newPod("api-1", corev1.PodRunning, false)}}
	ready := step{pods: []corev1.Pod{newPod("api-1", corev1.PodRunning, true)}}
	lister := &scriptedLister{steps: []step{notReady, notReady, notReady, ready}}

	fc := clocktesting.NewFakeClock(time.Now())
	p := NewPoller(lister, "stack", readinessConfig(3*interval), logger.Discard()).WithClock(fc)

	// ready wins when observed at the same tick the budget elapses
	result := waitWithFakeClock(context.Background(), p, fc, interval)
	g.Expect(result.Status).To(Equal(outcome.OKStatus))
}

func TestPoller_ListErrorsRetried(t *testing.T) {
	g := NewWithT(t)

	lister := &scriptedLister{steps: []step{
		{err: fmt.Errorf("the server is currently unable to handle the request")},
		{err: fmt.Errorf("connection reset by peer")},
		{pods: []corev1.Pod{newPod("api-1", corev1.PodRunning, true)}},
	}}

	fc := clocktesting.NewFakeClock(time.Now())
	p := NewPoller(lister, "stack", readinessConfig(10*interval), logger.Discard()).WithClock(fc)

	result := waitWithFakeClock(context.Background(), p, fc, interval)
	g.Expect(result.Status).To(Equal(outcome.OKStatus))
	g.Expect(lister.Calls()).To(Equal(3))
}

func TestPoller_Cancelled(t *testing.T) {
	g := NewWithT(t)

	lister := &scriptedLister{steps: []step{
		{pods: []corev1.Pod{newPod("api-1", corev1.PodRunning, false)}},
	}}

	p := NewPoller(lister, "stack", config.Readiness{
		Interval: metav1.Duration{Duration: 10 * time.Millisecond},
		Timeout:  metav1.Duration{Duration: time.Hour},
	}, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := p.Wait(ctx)
	g.Expect(result.Status).To(Equal(outcome.FailedStatus))
	g.Expect(result.Detail).To(ContainSubstring("cancelled"))
}

func TestPoller_TimedOutWithinBudget(t *testing.T) {
	g := NewWithT(t)

	lister := &scriptedLister{steps: []step{
		{pods: []corev1.Pod{newPod("api-1", corev1.PodRunning, false)}},
	}}

	start := time.Now()
	fc := clocktesting.NewFakeClock(start)
	p := NewPoller(lister, "stack", config.Readiness{
		Interval: metav1.Duration{Duration: 4 * time.Second},
		Timeout:  metav1.Duration{Duration: 10 * time.Second},
	}, logger.Discard()).WithClock(fc)

	result := waitWithFakeClock(context.Background(), p, fc, time.Second)
	g.Expect(result.Status).To(Equal(outcome.TimedOutStatus))

	// queries at 0s, 4s, 8s and the last sleep is cut to the 10s deadline
	g.Expect(lister.Calls()).To(Equal(4))
	g.Expect(fc.Since(start)).To(Equal(10 * time.Second))
}

// hangingLister blocks every query until its context ends.
type hangingLister struct{}

func (hangingLister) List(ctx context.Context, _ client.ObjectList, _ ...client.ListOption) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPoller_HangingQueryBoundedByBudget(t *testing.T) {
	g := NewWithT(t)

	p := NewPoller(hangingLister{}, "stack", config.Readiness{
		Interval: metav1.Duration{Duration: time.Second},
		Timeout:  metav1.Duration{Duration: 100 * time.Millisecond},
	}, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	result := p.Wait(ctx)
	g.Expect(result.Status).To(Equal(outcome.TimedOutStatus))
	g.Expect(result.Detail).To(ContainSubstring("context deadline exceeded"))
	g.Expect(time.Since(start)).To(BeNumerically("<", time.Second))
}
