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

package snapshot

import (
	"context"
	"fmt"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/shipctl/shipctl/pkg/readiness"
)

// Lister is the subset of the controller-runtime client used to take snapshots.
type Lister interface {
	List(ctx context.Context, list client.ObjectList, opts ...client.ListOption) error
}

// Table is a titled set of rows ready to be printed.
type Table struct {
	Title  string
	Header []string
	Rows   [][]string
}

// Snapshot is a read-only view of the workloads in a namespace.
type Snapshot struct {
	Namespace string
	Tables    []Table
}

// Taker lists pods, deployments, statefulsets, services and ingresses.
type Taker struct {
	lister    Lister
	namespace string
}

func NewTaker(lister Lister, namespace string) *Taker {
	return &Taker{lister: lister, namespace: namespace}
}

func (t *Taker) Take(ctx context.Context) (*Snapshot, error) {
	snapshot := &Snapshot{Namespace: t.namespace}

	for _, take := range []func(context.Context) (Table, error){
		t.pods,
		t.deployments,
		t.statefulSets,
		t.services,
		t.ingresses,
	} {
		table, err := take(ctx)
		if err != nil {
			return nil, err
		}
		snapshot.Tables = append(snapshot.Tables, table)
	}
	return snapshot, nil
}

func (t *Taker) list(ctx context.Context, list client.ObjectList, kind string) error {
	if err := t.lister.List(ctx, list, client.InNamespace(t.namespace)); err != nil {
		return fmt.Errorf("listing %s in %s failed: %w", kind, t.namespace, err)
	}
	return nil
}

func (t *Taker) pods(ctx context.Context) (Table, error) {
	list := &corev1.PodList{}
	if err := t.list(ctx, list, "pods"); err != nil {
		return Table{}, err
	}

	table := Table{Title: "pods", Header: []string{"name", "state", "restarts", "node"}}
	for i := range list.Items {
		pod := &list.Items[i]
		var restarts int32
		for _, cs := range pod.Status.ContainerStatuses {
			restarts += cs.RestartCount
		}
		table.Rows = append(table.Rows, []string{
			pod.Name,
			string(readiness.Classify(pod)),
			fmt.Sprintf("%d", restarts),
			pod.Spec.NodeName,
		})
	}
	return table, nil
}

func (t *Taker) deployments(ctx context.Context) (Table, error) {
	list := &appsv1.DeploymentList{}
	if err := t.list(ctx, list, "deployments"); err != nil {
		return Table{}, err
	}

	table := Table{Title: "deployments", Header: []string{"name", "ready", "up-to-date", "available"}}
	for _, d := range list.Items {
		table.Rows = append(table.Rows, []string{
			d.Name,
			fmt.Sprintf("%d/%d", d.Status.ReadyReplicas, replicas(d.Spec.Replicas)),
			fmt.Sprintf("%d", d.Status.UpdatedReplicas),
			fmt.Sprintf("%d", d.Status.AvailableReplicas),
		})
	}
	return table, nil
}

func (t *Taker) statefulSets(ctx context.Context) (Table, error) {
	list := &appsv1.StatefulSetList{}
	if err := t.list(ctx, list, "statefulsets"); err != nil {
		return Table{}, err
	}

	table := Table{Title: "statefulsets", Header: []string{"name", "ready", "current revision"}}
	for _, s := range list.Items {
		table.Rows = append(table.Rows, []string{
			s.Name,
			fmt.Sprintf("%d/%d", s.Status.ReadyReplicas, replicas(s.Spec.Replicas)),
			s.Status.CurrentRevision,
		})
	}
	return table, nil
}

func (t *Taker) services(ctx context.Context) (Table, error) {
	list := &corev1.ServiceList{}
	if err := t.list(ctx, list, "services"); err != nil {
		return Table{}, err
	}

	table := Table{Title: "services", Header: []string{"name", "type", "cluster-ip", "ports"}}
	for _, s := range list.Items {
		var ports []string
		for _, p := range s.Spec.Ports {
			ports = append(ports, fmt.Sprintf("%d/%s", p.Port, p.Protocol))
		}
		table.Rows = append(table.Rows, []string{
			s.Name,
			string(s.Spec.Type),
			s.Spec.ClusterIP,
			strings.Join(ports, ","),
		})
	}
	return table, nil
}

func (t *Taker) ingresses(ctx context.Context) (Table, error) {
	list := &networkingv1.IngressList{}
	if err := t.list(ctx, list, "ingresses"); err != nil {
		return Table{}, err
	}

	table := Table{Title: "ingresses", Header: []string{"name", "hosts", "address"}}
	for _, ing := range list.Items {
		var hosts []string
		for _, rule := range ing.Spec.Rules {
			host := rule.Host
			if host == "" {
				host = "*"
			}
			hosts = append(hosts, host)
		}
		var addresses []string
		for _, lb := range ing.Status.LoadBalancer.Ingress {
			if lb.IP != "" {
				addresses = append(addresses, lb.IP)
			} else if lb.Hostname != "" {
				addresses = append(addresses, lb.Hostname)
			}
		}
		table.Rows = append(table.Rows, []string{
			ing.Name,
			strings.Join(hosts, ","),
			strings.Join(addresses, ","),
		})
	}
	return table, nil
}

func replicas(r *int32) int32 {
	if r == nil {
		return 1
	}
	return *r
}
