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
	corev1 "k8s.io/api/core/v1"
)

// PodState is the readiness classification of a pod.
type PodState string

const (
	Ready       PodState = "Ready"
	Completed   PodState = "Completed"
	Terminating PodState = "Terminating"
	Pending     PodState = "Pending"
	NotReady    PodState = "NotReady"
	Failed      PodState = "Failed"
)

// Classify derives the state of a pod from its deletion timestamp,
// phase and Ready condition.
func Classify(pod *corev1.Pod) PodState {
	if pod.DeletionTimestamp != nil {
		return Terminating
	}

	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return Completed
	case corev1.PodFailed:
		return Failed
	case corev1.PodPending:
		return Pending
	case corev1.PodRunning:
		if isReady(pod) {
			return Ready
		}
		return NotReady
	default:
		return NotReady
	}
}

// Blocking returns true for the states that keep the namespace from being ready.
func (s PodState) Blocking() bool {
	switch s {
	case Ready, Completed, Terminating:
		return false
	default:
		return true
	}
}

func isReady(pod *corev1.Pod) bool {
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}
