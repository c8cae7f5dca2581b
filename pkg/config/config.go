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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

const (
	ConfigKind        = "Config"
	ConfigAPIVersion  = "shipctl.dev/v1"
	FieldManagerName  = "shipctl"
	FieldManagerGroup = "stack.shipctl.dev"
	DefaultConfigFile = "shipctl.yaml"
)

type Config struct {
	metav1.TypeMeta `json:",inline"`

	// Namespace is the namespace the application workloads run in.
	Namespace string `json:"namespace"`

	// ExpectedContext is the kubeconfig context the stack is meant to be
	// deployed to. When set, a mismatch requires confirmation.
	ExpectedContext string `json:"expectedContext,omitempty"`

	// MinKubeVersion is a semver constraint the cluster version must satisfy.
	MinKubeVersion string `json:"minKubeVersion,omitempty"`

	// RequiredTools lists the binaries that must be found in PATH.
	RequiredTools []string `json:"requiredTools,omitempty"`

	// IdentityFile holds the age identities used to decrypt '.age' manifests.
	IdentityFile string `json:"identityFile,omitempty"`

	// FieldManager holds the manager name and group used for server-side apply.
	FieldManager *FieldManager `json:"fieldManager,omitempty"`

	Images    *Images    `json:"images,omitempty"`
	Node      *Node      `json:"node,omitempty"`
	Readiness *Readiness `json:"readiness,omitempty"`
	Restart   *Restart   `json:"restart,omitempty"`
	Health    *Health    `json:"health,omitempty"`

	// Resources are applied in ascending order.
	Resources []Resource `json:"resources,omitempty"`

	// Workloads are restarted after apply.
	Workloads []Workload `json:"workloads,omitempty"`

	// Probes are the endpoints checked by verify.
	Probes []Probe `json:"probes,omitempty"`
}

type FieldManager struct {
	// Name sets the field manager for the applied objects.
	Name string `json:"name"`

	// Group sets the owner label key prefix.
	Group string `json:"group"`
}

// ImageSource selects where local images are read from.
type ImageSource string

const (
	DaemonSource   ImageSource = "daemon"
	RegistrySource ImageSource = "registry"
)

type Images struct {
	// Source is either 'daemon' (local docker engine) or 'registry'.
	Source ImageSource `json:"source,omitempty"`

	// BuildRegistry is the host of the local build registry,
	// used when Source is 'registry'.
	BuildRegistry string `json:"buildRegistry,omitempty"`

	// Insecure allows plain HTTP to the build registry.
	Insecure bool `json:"insecure,omitempty"`

	// Parallelism bounds the number of images transferred at once.
	Parallelism int `json:"parallelism,omitempty"`

	Retry RetryPolicy `json:"retry,omitempty"`

	Refs []ImageRef `json:"refs,omitempty"`
}

// ImageRef identifies a local image and its name in the node image store.
type ImageRef struct {
	Name   string `json:"name"`
	Local  string `json:"local"`
	Target string `json:"target"`
}

// ImporterType selects how image archives reach the node runtime.
type ImporterType string

const (
	ExecImporter ImporterType = "exec"
	SSHImporter  ImporterType = "ssh"
)

type Node struct {
	Importer ImporterType `json:"importer"`

	// ImportCommand reads a docker archive from stdin.
	ImportCommand string `json:"importCommand"`

	// PingCommand is run to check that the runtime is reachable.
	PingCommand string `json:"pingCommand,omitempty"`

	SSH *SSH `json:"ssh,omitempty"`
}

type SSH struct {
	Host           string          `json:"host"`
	Port           int             `json:"port,omitempty"`
	User           string          `json:"user"`
	KeyFile        string          `json:"keyFile"`
	KnownHostsFile string          `json:"knownHostsFile,omitempty"`
	ConnectTimeout metav1.Duration `json:"connectTimeout,omitempty"`
}

type Readiness struct {
	Interval metav1.Duration `json:"interval"`
	Timeout  metav1.Duration `json:"timeout"`
}

type Restart struct {
	Retry RetryPolicy `json:"retry,omitempty"`
}

type Health struct {
	Timeout metav1.Duration `json:"timeout"`
}

// Resource is an opaque unit of cluster configuration.
type Resource struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Order int    `json:"order"`
}

// Workload kinds accepted by the restart trigger.
const (
	DeploymentKind  = "Deployment"
	StatefulSetKind = "StatefulSet"
)

type Workload struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

func (w Workload) String() string {
	return fmt.Sprintf("%s/%s/%s", w.Kind, w.Namespace, w.Name)
}

type Probe struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// NewConfig returns a config describing the default stack layout.
func NewConfig() *Config {
	cfg := &Config{
		TypeMeta: metav1.TypeMeta{
			Kind:       ConfigKind,
			APIVersion: ConfigAPIVersion,
		},
		Namespace:     "stack",
		RequiredTools: []string{"docker"},
		Resources: []Resource{
			{Name: "namespace", Path: "deploy/namespace.yaml", Order: 0},
			{Name: "config", Path: "deploy/config.yaml", Order: 10},
			{Name: "secrets", Path: "deploy/secrets.yaml", Order: 11},
			{Name: "schema", Path: "deploy/schema-init.yaml", Order: 20},
			{Name: "postgres", Path: "deploy/postgres.yaml", Order: 30},
			{Name: "api", Path: "deploy/api.yaml", Order: 40},
			{Name: "agent-api", Path: "deploy/agent-api.yaml", Order: 41},
			{Name: "ui", Path: "deploy/ui.yaml", Order: 42},
			{Name: "ingress", Path: "deploy/ingress.yaml", Order: 50},
		},
		Workloads: []Workload{
			{Kind: StatefulSetKind, Name: "postgres"},
			{Kind: DeploymentKind, Name: "api"},
			{Kind: DeploymentKind, Name: "agent-api"},
			{Kind: DeploymentKind, Name: "ui"},
		},
		Probes: []Probe{
			{Label: "ui", URL: "http://localhost/"},
			{Label: "api", URL: "http://localhost/api/health"},
			{Label: "agent-api", URL: "http://localhost/agent/health"},
		},
	}
	cfg.Images = defaultImages()
	cfg.setDefaults()
	return cfg
}

func defaultImages() *Images {
	return &Images{
		Refs: []ImageRef{
			{Name: "api", Local: "stack/api:latest", Target: "docker.io/stack/api:latest"},
			{Name: "agent-api", Local: "stack/agent-api:latest", Target: "docker.io/stack/agent-api:latest"},
			{Name: "ui", Local: "stack/ui:latest", Target: "docker.io/stack/ui:latest"},
		},
	}
}

func (c *Config) setDefaults() {
	if c.FieldManager == nil {
		c.FieldManager = &FieldManager{
			Name:  FieldManagerName,
			Group: FieldManagerGroup,
		}
	}

	if c.Images == nil {
		c.Images = &Images{}
	}
	if c.Images.Source == "" {
		c.Images.Source = DaemonSource
	}
	if c.Images.Parallelism < 1 {
		c.Images.Parallelism = 2
	}
	c.Images.Retry.setDefaults()

	if c.Node == nil {
		c.Node = &Node{}
	}
	if c.Node.Importer == "" {
		c.Node.Importer = ExecImporter
	}
	if c.Node.ImportCommand == "" {
		switch c.Node.Importer {
		case SSHImporter:
			c.Node.ImportCommand = "sudo k3s ctr images import -"
		default:
			c.Node.ImportCommand = "docker exec -i k3s-server ctr -n k8s.io images import -"
		}
	}
	if c.Node.SSH != nil {
		if c.Node.SSH.Port == 0 {
			c.Node.SSH.Port = 22
		}
		if c.Node.SSH.ConnectTimeout.Duration == 0 {
			c.Node.SSH.ConnectTimeout = metav1.Duration{Duration: 10 * time.Second}
		}
	}

	if c.Readiness == nil {
		c.Readiness = &Readiness{}
	}
	if c.Readiness.Interval.Duration == 0 {
		c.Readiness.Interval = metav1.Duration{Duration: 2 * time.Second}
	}
	if c.Readiness.Timeout.Duration == 0 {
		c.Readiness.Timeout = metav1.Duration{Duration: 120 * time.Second}
	}

	if c.Restart == nil {
		c.Restart = &Restart{}
	}
	c.Restart.Retry.setDefaults()

	if c.Health == nil {
		c.Health = &Health{}
	}
	if c.Health.Timeout.Duration == 0 {
		c.Health.Timeout = metav1.Duration{Duration: 5 * time.Second}
	}

	for i := range c.Workloads {
		if c.Workloads[i].Namespace == "" {
			c.Workloads[i].Namespace = c.Namespace
		}
	}
}

// Validate checks the fields that can't be defaulted.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace can't be empty")
	}

	if c.FieldManager.Name == "" {
		return fmt.Errorf("the field manager name can't be empty")
	}

	if c.FieldManager.Group == "" {
		return fmt.Errorf("the field manager group can't be empty")
	}

	switch c.Images.Source {
	case DaemonSource:
	case RegistrySource:
		if c.Images.BuildRegistry == "" {
			return fmt.Errorf("images.buildRegistry is required when the source is '%s'", RegistrySource)
		}
	default:
		return fmt.Errorf("unknown image source '%s'", c.Images.Source)
	}

	names := make(map[string]bool)
	for _, ref := range c.Images.Refs {
		if ref.Name == "" || ref.Local == "" || ref.Target == "" {
			return fmt.Errorf("image '%s' must have a name, a local and a target reference", ref.Name)
		}
		if names[ref.Name] {
			return fmt.Errorf("duplicate image name '%s'", ref.Name)
		}
		names[ref.Name] = true
	}

	switch c.Node.Importer {
	case ExecImporter:
	case SSHImporter:
		if c.Node.SSH == nil || c.Node.SSH.Host == "" || c.Node.SSH.User == "" || c.Node.SSH.KeyFile == "" {
			return fmt.Errorf("node.ssh host, user and keyFile are required for the ssh importer")
		}
	default:
		return fmt.Errorf("unknown importer '%s'", c.Node.Importer)
	}

	for _, r := range c.Resources {
		if r.Name == "" || r.Path == "" {
			return fmt.Errorf("resources must have a name and a path")
		}
	}

	for _, w := range c.Workloads {
		if w.Kind != DeploymentKind && w.Kind != StatefulSetKind {
			return fmt.Errorf("workload '%s' has unsupported kind '%s'", w.Name, w.Kind)
		}
	}

	for _, p := range c.Probes {
		if p.URL == "" {
			return fmt.Errorf("probe '%s' has no URL", p.Label)
		}
	}

	return nil
}

// SetNamespace overrides the application namespace, workloads
// in the previous namespace are moved along.
func (c *Config) SetNamespace(namespace string) {
	for i := range c.Workloads {
		if c.Workloads[i].Namespace == c.Namespace {
			c.Workloads[i].Namespace = namespace
		}
	}
	c.Namespace = namespace
}

// Read loads the config from the specified path, relative resource paths
// are resolved against the config file directory.
// If the config file is not found, the default stack is returned.
func Read(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigFile
	}

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return NewConfig(), nil
	}

	cfgData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.UnmarshalStrict(cfgData, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = NewConfig().Namespace
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}

	base := filepath.Dir(configPath)
	for i, r := range cfg.Resources {
		if !filepath.IsAbs(r.Path) {
			cfg.Resources[i].Path = filepath.Join(base, r.Path)
		}
	}
	if cfg.IdentityFile != "" && !filepath.IsAbs(cfg.IdentityFile) {
		cfg.IdentityFile = filepath.Join(base, cfg.IdentityFile)
	}
	if ssh := cfg.Node.SSH; ssh != nil {
		if ssh.KeyFile != "" && !filepath.IsAbs(ssh.KeyFile) {
			ssh.KeyFile = filepath.Join(base, ssh.KeyFile)
		}
		if ssh.KnownHostsFile != "" && !filepath.IsAbs(ssh.KnownHostsFile) {
			ssh.KnownHostsFile = filepath.Join(base, ssh.KnownHostsFile)
		}
	}

	return cfg, nil
}

// Write saves the config at the given path, if no path is specified
// it will create or override './shipctl.yaml'.
func (c *Config) Write(configPath string) error {
	if configPath == "" {
		configPath = DefaultConfigFile
	}

	if err := os.MkdirAll(filepath.Dir(configPath), os.FileMode(0755)); err != nil {
		return err
	}

	cfgData, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, cfgData, os.FileMode(0644))
}
