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

package images

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/docker/docker/client"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	gcrv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/daemon"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"

	"github.com/shipctl/shipctl/pkg/config"
)

// ErrImageNotFound is returned by a Source when the local image does not exist.
var ErrImageNotFound = errors.New("image not found")

// Source resolves locally built images.
type Source interface {
	Image(ctx context.Context, ref string) (gcrv1.Image, error)
	Ping(ctx context.Context) error
}

// DaemonSource reads images from the local docker engine.
type DaemonSource struct {
	client *client.Client
}

// NewDaemonSource connects to the docker engine using the DOCKER_* environment variables.
func NewDaemonSource() (*DaemonSource, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client init failed: %w", err)
	}
	return &DaemonSource{client: cli}, nil
}

func (s *DaemonSource) Image(ctx context.Context, ref string) (gcrv1.Image, error) {
	tag, err := name.ParseReference(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid image reference '%s': %w", ref, err)
	}

	if _, _, err := s.client.ImageInspectWithRaw(ctx, tag.Name()); err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("%s: %w", ref, ErrImageNotFound)
		}
		return nil, fmt.Errorf("docker inspect %s failed: %w", ref, err)
	}

	return daemon.Image(tag, daemon.WithClient(s.client), daemon.WithContext(ctx))
}

func (s *DaemonSource) Ping(ctx context.Context) error {
	if _, err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker engine unreachable: %w", err)
	}
	return nil
}

// RegistrySource pulls images from a local build registry.
type RegistrySource struct {
	host     string
	insecure bool
}

func NewRegistrySource(host string, insecure bool) *RegistrySource {
	return &RegistrySource{
		host:     strings.TrimSuffix(host, "/"),
		insecure: insecure,
	}
}

func (s *RegistrySource) Image(ctx context.Context, ref string) (gcrv1.Image, error) {
	url := fmt.Sprintf("%s/%s", s.host, ref)
	if _, err := name.ParseReference(url, s.nameOptions()...); err != nil {
		return nil, fmt.Errorf("invalid image reference '%s': %w", url, err)
	}

	img, err := crane.Pull(url, s.craneOptions(ctx)...)
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", url, ErrImageNotFound)
		}
		return nil, fmt.Errorf("pulling %s failed: %w", url, err)
	}
	return img, nil
}

func (s *RegistrySource) Ping(ctx context.Context) error {
	if _, err := crane.Catalog(s.host, s.craneOptions(ctx)...); err != nil {
		return fmt.Errorf("build registry %s unreachable: %w", s.host, err)
	}
	return nil
}

func (s *RegistrySource) craneOptions(ctx context.Context) []crane.Option {
	opts := []crane.Option{
		crane.WithContext(ctx),
		crane.WithUserAgent("shipctl/v1"),
	}
	if s.insecure {
		opts = append(opts, crane.Insecure)
	}
	return opts
}

func (s *RegistrySource) nameOptions() []name.Option {
	if s.insecure {
		return []name.Option{name.Insecure}
	}
	return nil
}

// NewSource returns the Source selected in the images config.
func NewSource(cfg config.Images) (Source, error) {
	switch cfg.Source {
	case config.RegistrySource:
		return NewRegistrySource(cfg.BuildRegistry, cfg.Insecure), nil
	case config.DaemonSource, "":
		return NewDaemonSource()
	default:
		return nil, fmt.Errorf("unknown image source '%s'", cfg.Source)
	}
}
