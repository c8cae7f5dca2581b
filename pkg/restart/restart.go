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

package restart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/shipctl/shipctl/pkg/config"
	"github.com/shipctl/shipctl/pkg/logger"
	"github.com/shipctl/shipctl/pkg/outcome"
)

// RestartedAtAnnotation is the pod template annotation set by 'kubectl rollout restart'.
const RestartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

// Restarter requests rolling restarts by stamping the pod template of each workload.
type Restarter struct {
	client    client.Writer
	workloads []config.Workload
	backoff   wait.Backoff
	clock     clock.PassiveClock
	log       *logger.Logger
}

func NewRestarter(kubeClient client.Writer, workloads []config.Workload, policy config.RetryPolicy, log *logger.Logger) *Restarter {
	return &Restarter{
		client:    kubeClient,
		workloads: workloads,
		backoff:   policy.Backoff(),
		clock:     clock.RealClock{},
		log:       log,
	}
}

// WithClock replaces the clock used to timestamp restarts.
func (r *Restarter) WithClock(c clock.PassiveClock) *Restarter {
	r.clock = c
	return r
}

// Restart patches every workload and returns one outcome per workload.
// It returns once the API server accepted the patches, without waiting for the rollout.
func (r *Restarter) Restart(ctx context.Context) []outcome.RunOutcome {
	results := make([]outcome.RunOutcome, 0, len(r.workloads))
	for _, workload := range r.workloads {
		results = append(results, r.restart(ctx, workload))
	}
	return results
}

func (r *Restarter) restart(ctx context.Context, workload config.Workload) outcome.RunOutcome {
	subject := workload.String()

	obj, err := newObject(workload)
	if err != nil {
		r.log.Failuref("%s", err)
		return outcome.Failed(outcome.RestartStage, subject, err)
	}

	restartedAt := r.clock.Now().UTC().Format(time.RFC3339)
	patch, err := restartPatch(restartedAt)
	if err != nil {
		return outcome.Failed(outcome.RestartStage, subject, err)
	}

	err = retry.OnError(r.backoff, func(err error) bool {
		return !apierrors.IsNotFound(err) && ctx.Err() == nil
	}, func() error {
		return r.client.Patch(ctx, obj, client.RawPatch(types.MergePatchType, patch))
	})

	switch {
	case apierrors.IsNotFound(err):
		r.log.Warnf("%s not found, skipping restart", subject)
		return outcome.Skipped(outcome.RestartStage, subject, "not found")
	case err != nil:
		err = fmt.Errorf("restart patch failed: %w", err)
		r.log.Failuref("%s: %s", subject, err)
		return outcome.Failed(outcome.RestartStage, subject, err)
	}

	r.log.Successf("%s restarted", subject)
	return outcome.OK(outcome.RestartStage, subject, fmt.Sprintf("restartedAt %s", restartedAt))
}

func newObject(workload config.Workload) (client.Object, error) {
	var obj client.Object
	switch workload.Kind {
	case config.DeploymentKind:
		obj = &appsv1.Deployment{}
	case config.StatefulSetKind:
		obj = &appsv1.StatefulSet{}
	default:
		return nil, fmt.Errorf("%s: unsupported kind %s", workload.String(), workload.Kind)
	}
	obj.SetName(workload.Name)
	obj.SetNamespace(workload.Namespace)
	return obj, nil
}

func restartPatch(restartedAt string) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"annotations": map[string]string{
						RestartedAtAnnotation: restartedAt,
					},
				},
			},
		},
	})
}
