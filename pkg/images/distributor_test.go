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
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	gcrv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/shipctl/shipctl/pkg/config"
	"github.com/shipctl/shipctl/pkg/logger"
	"github.com/shipctl/shipctl/pkg/outcome"
)

type fakeSource struct {
	images map[string]gcrv1.Image
}

func (s *fakeSource) Image(_ context.Context, ref string) (gcrv1.Image, error) {
	img, ok := s.images[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrImageNotFound)
	}
	return img, nil
}

func (s *fakeSource) Ping(context.Context) error {
	return nil
}

type fakeImporter struct {
	mu       sync.Mutex
	archives [][]byte
	attempts int
	failures int
	delay    time.Duration

	running int32
	peak    int32
}

func (i *fakeImporter) Import(_ context.Context, archive io.Reader) error {
	n := atomic.AddInt32(&i.running, 1)
	defer atomic.AddInt32(&i.running, -1)
	for {
		peak := atomic.LoadInt32(&i.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&i.peak, peak, n) {
			break
		}
	}

	data, err := io.ReadAll(archive)
	if err != nil {
		return err
	}
	time.Sleep(i.delay)

	i.mu.Lock()
	defer i.mu.Unlock()
	i.attempts++
	if i.failures > 0 {
		i.failures--
		return fmt.Errorf("ctr: connection refused")
	}
	i.archives = append(i.archives, data)
	return nil
}

func (i *fakeImporter) Ping(context.Context) error {
	return nil
}

func randomImage(t *testing.T) gcrv1.Image {
	t.Helper()
	img, err := random.Image(512, 2)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func imagesConfig(names ...string) config.Images {
	cfg := config.Images{
		Parallelism: 2,
		Retry: config.RetryPolicy{
			MaxAttempts: 1,
			Interval:    metav1.Duration{Duration: time.Millisecond},
			Factor:      1,
		},
	}
	for _, n := range names {
		cfg.Refs = append(cfg.Refs, config.ImageRef{
			Name:   n,
			Local:  fmt.Sprintf("stack/%s:latest", n),
			Target: fmt.Sprintf("docker.io/stack/%s:latest", n),
		})
	}
	return cfg
}

func TestDistribute_MissingImage(t *testing.T) {
	g := NewWithT(t)

	source := &fakeSource{images: map[string]gcrv1.Image{
		"stack/api:latest": randomImage(t),
	}}
	importer := &fakeImporter{}
	d := NewDistributor(source, importer, imagesConfig("api", "ui"), logger.Discard())

	results := d.Distribute(context.Background(), nil)
	g.Expect(results).To(HaveLen(2))
	g.Expect(results[0].Subject).To(Equal("api"))
	g.Expect(results[0].Status).To(Equal(outcome.OKStatus))
	g.Expect(results[1].Subject).To(Equal("ui"))
	g.Expect(results[1].Status).To(Equal(outcome.FailedStatus))
	g.Expect(results[1].Detail).To(ContainSubstring(ErrImageNotFound.Error()))
	g.Expect(outcome.AnyFailed(results)).To(BeTrue())
	g.Expect(importer.archives).To(HaveLen(1))
}

func TestDistribute_Subset(t *testing.T) {
	g := NewWithT(t)

	source := &fakeSource{images: map[string]gcrv1.Image{
		"stack/api:latest":       randomImage(t),
		"stack/agent-api:latest": randomImage(t),
		"stack/ui:latest":        randomImage(t),
	}}
	importer := &fakeImporter{}
	d := NewDistributor(source, importer, imagesConfig("api", "agent-api", "ui"), logger.Discard())

	results := d.Distribute(context.Background(), []string{"ui", "worker", "api"})

	var subjects []string
	for _, r := range results {
		subjects = append(subjects, r.Subject)
	}
	g.Expect(subjects).To(Equal([]string{"ui", "worker", "api"}))
	g.Expect(results[0].Status).To(Equal(outcome.OKStatus))
	g.Expect(results[1].Status).To(Equal(outcome.FailedStatus))
	g.Expect(results[1].Detail).To(ContainSubstring("not defined"))
	g.Expect(results[2].Status).To(Equal(outcome.OKStatus))
	g.Expect(importer.archives).To(HaveLen(2))
}

func TestDistribute_ArchiveTaggedWithTarget(t *testing.T) {
	g := NewWithT(t)

	img := randomImage(t)
	source := &fakeSource{images: map[string]gcrv1.Image{"stack/api:latest": img}}
	importer := &fakeImporter{}
	d := NewDistributor(source, importer, imagesConfig("api"), logger.Discard())

	results := d.Distribute(context.Background(), []string{"api"})
	g.Expect(results[0].Status).To(Equal(outcome.OKStatus))
	g.Expect(importer.archives).To(HaveLen(1))

	tag, err := name.NewTag("docker.io/stack/api:latest")
	g.Expect(err).NotTo(HaveOccurred())

	data := importer.archives[0]
	imported, err := tarball.Image(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, &tag)
	g.Expect(err).NotTo(HaveOccurred())

	want, err := img.ConfigName()
	g.Expect(err).NotTo(HaveOccurred())
	got, err := imported.ConfigName()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(got).To(Equal(want))
}

func TestDistribute_Retry(t *testing.T) {
	g := NewWithT(t)

	source := &fakeSource{images: map[string]gcrv1.Image{"stack/api:latest": randomImage(t)}}

	// a single attempt by default
	importer := &fakeImporter{failures: 1}
	d := NewDistributor(source, importer, imagesConfig("api"), logger.Discard())
	results := d.Distribute(context.Background(), nil)
	g.Expect(results[0].Status).To(Equal(outcome.FailedStatus))
	g.Expect(results[0].Detail).To(ContainSubstring("after 1 attempt(s)"))
	g.Expect(importer.attempts).To(Equal(1))

	cfg := imagesConfig("api")
	cfg.Retry.MaxAttempts = 3
	importer = &fakeImporter{failures: 2}
	d = NewDistributor(source, importer, cfg, logger.Discard())
	results = d.Distribute(context.Background(), nil)
	g.Expect(results[0].Status).To(Equal(outcome.OKStatus))
	g.Expect(importer.attempts).To(Equal(3))
}

func TestDistribute_Parallelism(t *testing.T) {
	g := NewWithT(t)

	names := []string{"a", "b", "c", "d", "e"}
	source := &fakeSource{images: map[string]gcrv1.Image{}}
	for _, n := range names {
		source.images[fmt.Sprintf("stack/%s:latest", n)] = randomImage(t)
	}

	importer := &fakeImporter{delay: 20 * time.Millisecond}
	d := NewDistributor(source, importer, imagesConfig(names...), logger.Discard())

	results := d.Distribute(context.Background(), nil)
	g.Expect(outcome.AnyFailed(results)).To(BeFalse())
	g.Expect(importer.archives).To(HaveLen(len(names)))
	g.Expect(atomic.LoadInt32(&importer.peak)).To(BeNumerically("<=", 2))
}

func TestDistribute_DuplicateNames(t *testing.T) {
	g := NewWithT(t)

	source := &fakeSource{images: map[string]gcrv1.Image{
		"stack/api:latest": randomImage(t),
		"stack/ui:latest":  randomImage(t),
	}}
	importer := &fakeImporter{}
	d := NewDistributor(source, importer, imagesConfig("api", "ui"), logger.Discard())

	results := d.Distribute(context.Background(), []string{"api", "ui", "api"})
	g.Expect(results).To(HaveLen(2))
	g.Expect(results[0].Subject).To(Equal("api"))
	g.Expect(results[1].Subject).To(Equal("ui"))
	g.Expect(importer.archives).To(HaveLen(2))
}

func TestDistribute_Cancelled(t *testing.T) {
	g := NewWithT(t)

	source := &fakeSource{images: map[string]gcrv1.Image{
		"stack/api:latest": randomImage(t),
	}}
	importer := &fakeImporter{}
	d := NewDistributor(source, importer, imagesConfig("api"), logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := d.Distribute(ctx, nil)
	g.Expect(results[0].Status).To(Equal(outcome.FailedStatus))
	g.Expect(results[0].Detail).To(ContainSubstring("context canceled"))
	g.Expect(importer.archives).To(BeEmpty())
}
