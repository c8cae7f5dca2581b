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

package apply

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fluxcd/pkg/ssa"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/shipctl/shipctl/pkg/config"
	"github.com/shipctl/shipctl/pkg/logger"
	"github.com/shipctl/shipctl/pkg/manifest"
	"github.com/shipctl/shipctl/pkg/outcome"
)

// Manager is the subset of the ssa.ResourceManager used by the Applier.
type Manager interface {
	Apply(ctx context.Context, object *unstructured.Unstructured, opts ssa.ApplyOptions) (*ssa.ChangeSetEntry, error)
	ApplyAll(ctx context.Context, objects []*unstructured.Unstructured, opts ssa.ApplyOptions) (*ssa.ChangeSet, error)
	Wait(objects []*unstructured.Unstructured, opts ssa.WaitOptions) error
	SetOwnerLabels(objects []*unstructured.Unstructured, name, namespace string)
}

// Loader reads the objects backing a resource descriptor.
type Loader interface {
	Load(path string) ([]*unstructured.Unstructured, error)
}

// Applier applies resource descriptors in order with server-side apply.
type Applier struct {
	manager   Manager
	loader    Loader
	resources []config.Resource
	namespace string
	applyOpts ssa.ApplyOptions
	waitOpts  ssa.WaitOptions
	log       *logger.Logger
}

// NewApplier creates an Applier for the given descriptors.
// The descriptors are copied and sorted by their order index, ties are broken by name.
func NewApplier(manager Manager, loader Loader, resources []config.Resource, namespace string, log *logger.Logger) *Applier {
	sorted := make([]config.Resource, len(resources))
	copy(sorted, resources)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].Name < sorted[j].Name
	})

	return &Applier{
		manager:   manager,
		loader:    loader,
		resources: sorted,
		namespace: namespace,
		applyOpts: ssa.DefaultApplyOptions(),
		waitOpts:  ssa.DefaultWaitOptions(),
		log:       log,
	}
}

// Apply attempts every descriptor regardless of earlier failures
// and returns exactly one outcome per descriptor.
func (a *Applier) Apply(ctx context.Context) []outcome.RunOutcome {
	results := make([]outcome.RunOutcome, 0, len(a.resources))
	for _, res := range a.resources {
		results = append(results, a.applyResource(ctx, res))
	}
	return results
}

func (a *Applier) applyResource(ctx context.Context, res config.Resource) outcome.RunOutcome {
	objects, err := a.loader.Load(res.Path)
	if err != nil {
		if errors.Is(err, manifest.ErrNotFound) {
			a.log.Warnf("%s skipped, %s not found", res.Name, res.Path)
			return outcome.Skipped(outcome.ApplyStage, res.Name, fmt.Sprintf("%s not found", res.Path))
		}
		a.log.Failuref("%s build failed: %s", res.Name, err)
		return outcome.Failed(outcome.ApplyStage, res.Name, err)
	}

	if len(objects) == 0 {
		a.log.Warnf("%s skipped, no objects found in %s", res.Name, res.Path)
		return outcome.Skipped(outcome.ApplyStage, res.Name, "no objects found")
	}

	a.manager.SetOwnerLabels(objects, res.Name, a.namespace)

	changes, err := a.applyObjects(ctx, objects)
	for _, change := range changes {
		a.log.Println(change)
	}
	if err != nil {
		a.log.Failuref("%s apply failed: %s", res.Name, err)
		return outcome.Failed(outcome.ApplyStage, res.Name, err)
	}

	a.log.Successf("%s applied (%d objects)", res.Name, len(objects))
	return outcome.OK(outcome.ApplyStage, res.Name, strings.Join(changes, ", "))
}

// applyObjects applies the namespaces and CRDs first and waits for them
// to be registered, then applies the rest of the objects in kind order.
func (a *Applier) applyObjects(ctx context.Context, objects []*unstructured.Unstructured) ([]string, error) {
	var changes []string

	// contains only CRDs and Namespaces
	var stageOne []*unstructured.Unstructured

	// contains all objects except for CRDs and Namespaces
	var stageTwo []*unstructured.Unstructured

	for _, u := range objects {
		if ssa.IsClusterDefinition(u) {
			stageOne = append(stageOne, u)
		} else {
			stageTwo = append(stageTwo, u)
		}
	}

	if len(stageOne) > 0 {
		changeSet, err := a.manager.ApplyAll(ctx, stageOne, a.applyOpts)
		if err != nil {
			return changes, err
		}
		for _, change := range changeSet.Entries {
			changes = append(changes, change.String())
		}

		if err := a.manager.Wait(stageOne, a.waitOpts); err != nil {
			return changes, err
		}
	}

	sort.Sort(ssa.SortableUnstructureds(stageTwo))
	for _, object := range stageTwo {
		change, err := a.manager.Apply(ctx, object, a.applyOpts)
		if err != nil {
			return changes, err
		}
		changes = append(changes, change.String())
	}

	return changes, nil
}
