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
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func TestRead_Default(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Read(filepath.Join(t.TempDir(), "missing.yaml"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Namespace).To(Equal("stack"))
	g.Expect(cfg.Readiness.Interval.Duration).To(Equal(2 * time.Second))
	g.Expect(cfg.Readiness.Timeout.Duration).To(Equal(120 * time.Second))
	g.Expect(cfg.Health.Timeout.Duration).To(Equal(5 * time.Second))
	g.Expect(cfg.Images.Source).To(Equal(DaemonSource))
	g.Expect(cfg.Node.Importer).To(Equal(ExecImporter))
	var names []string
	for _, ref := range cfg.Images.Refs {
		names = append(names, ref.Name)
	}
	g.Expect(names).To(Equal([]string{"api", "agent-api", "ui"}))
	g.Expect(cfg.Validate()).To(Succeed())

	for _, w := range cfg.Workloads {
		g.Expect(w.Namespace).To(Equal("stack"))
	}
}

func TestRead_File(t *testing.T) {
	g := NewWithT(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "shipctl.yaml")

	err := os.WriteFile(path, []byte(`
apiVersion: shipctl.dev/v1
kind: Config
namespace: demo
expectedContext: k3s-dev
images:
  parallelism: 4
  retry:
    maxAttempts: 3
    interval: 500ms
  refs:
    - name: api
      local: demo/api:dev
      target: docker.io/demo/api:dev
node:
  importer: ssh
  ssh:
    host: 10.0.0.2
    user: ops
    keyFile: /home/ops/.ssh/id_ed25519
readiness:
  interval: 1s
  timeout: 30s
resources:
  - name: namespace
    path: k8s/namespace.yaml
    order: 0
workloads:
  - kind: Deployment
    name: api
`), 0644)
	g.Expect(err).NotTo(HaveOccurred())

	cfg, err := Read(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Namespace).To(Equal("demo"))
	g.Expect(cfg.ExpectedContext).To(Equal("k3s-dev"))
	g.Expect(cfg.Images.Parallelism).To(Equal(4))
	g.Expect(cfg.Images.Retry.MaxAttempts).To(Equal(3))
	g.Expect(cfg.Node.ImportCommand).To(Equal("sudo k3s ctr images import -"))
	g.Expect(cfg.Node.SSH.Port).To(Equal(22))
	g.Expect(cfg.Readiness.Timeout.Duration).To(Equal(30 * time.Second))
	g.Expect(cfg.Resources[0].Path).To(Equal(filepath.Join(dir, "k8s/namespace.yaml")))
	g.Expect(cfg.Workloads[0].Namespace).To(Equal("demo"))
	g.Expect(cfg.FieldManager.Name).To(Equal(FieldManagerName))

	backoff := cfg.Images.Retry.Backoff()
	g.Expect(backoff.Steps).To(Equal(3))
	g.Expect(backoff.Duration).To(Equal(500 * time.Millisecond))
}

func TestRead_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  string
	}{
		{
			name: "duplicate image",
			body: `
images:
  refs:
    - {name: api, local: a:1, target: b:1}
    - {name: api, local: a:2, target: b:2}
`,
			err: "duplicate image name 'api'",
		},
		{
			name: "unknown workload kind",
			body: `
workloads:
  - {kind: DaemonSet, name: agent}
`,
			err: "unsupported kind 'DaemonSet'",
		},
		{
			name: "ssh without host",
			body: `
node:
  importer: ssh
`,
			err: "required for the ssh importer",
		},
		{
			name: "unknown field",
			body: `
namespaces: demo
`,
			err: "unknown field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			path := filepath.Join(t.TempDir(), "shipctl.yaml")
			g.Expect(os.WriteFile(path, []byte(tt.body), 0644)).To(Succeed())

			_, err := Read(path)
			g.Expect(err).To(HaveOccurred())
			g.Expect(err.Error()).To(ContainSubstring(tt.err))
		})
	}
}

func TestWrite(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "nested", "shipctl.yaml")

	cfg := NewConfig()
	cfg.ExpectedContext = "kind-stack"
	g.Expect(cfg.Write(path)).To(Succeed())

	read, err := Read(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(read.ExpectedContext).To(Equal("kind-stack"))
	g.Expect(read.Workloads).To(HaveLen(len(cfg.Workloads)))
	g.Expect(read.Probes).To(Equal(cfg.Probes))
}

func TestSetNamespace(t *testing.T) {
	g := NewWithT(t)

	cfg := NewConfig()
	cfg.Workloads = append(cfg.Workloads, Workload{Kind: DeploymentKind, Name: "ingress-nginx", Namespace: "ingress"})
	cfg.SetNamespace("staging")

	g.Expect(cfg.Namespace).To(Equal("staging"))
	g.Expect(cfg.Workloads[0].String()).To(Equal("StatefulSet/staging/postgres"))
	g.Expect(cfg.Workloads[len(cfg.Workloads)-1].Namespace).To(Equal("ingress"))
}
