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
	"io"

	"github.com/google/go-containerregistry/pkg/name"
	gcrv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/shipctl/shipctl/pkg/config"
	"github.com/shipctl/shipctl/pkg/logger"
	"github.com/shipctl/shipctl/pkg/outcome"
)

// Distributor transfers locally built images into the node image store.
type Distributor struct {
	source      Source
	importer    Importer
	refs        []config.ImageRef
	parallelism int
	backoff     wait.Backoff
	log         *logger.Logger
}

func NewDistributor(source Source, importer Importer, cfg config.Images, log *logger.Logger) *Distributor {
	parallelism := cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return &Distributor{
		source:      source,
		importer:    importer,
		refs:        cfg.Refs,
		parallelism: parallelism,
		backoff:     cfg.Retry.Backoff(),
		log:         log,
	}
}

// Distribute imports the named images, or all configured images when names
// is empty. Images are transferred in parallel and the returned outcomes
// follow the input order, with repeated names imported once. Unknown names
// yield a failed outcome.
func (d *Distributor) Distribute(ctx context.Context, names []string) []outcome.RunOutcome {
	jobs := d.selectRefs(names)
	results := make([]outcome.RunOutcome, len(jobs))

	var g errgroup.Group
	g.SetLimit(d.parallelism)
	for i, job := range jobs {
		i, job := i, job
		if job.ref == nil {
			err := fmt.Errorf("image '%s' is not defined in config", job.name)
			d.log.Failuref("%s", err)
			results[i] = outcome.Failed(outcome.ImagesStage, job.name, err)
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = outcome.Failed(outcome.ImagesStage, job.name, err)
				return err
			}
			results[i] = d.distribute(ctx, *job.ref)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.log.Warnf("image distribution interrupted: %s", err)
	}

	return results
}

type job struct {
	name string
	ref  *config.ImageRef
}

func (d *Distributor) selectRefs(names []string) []job {
	var jobs []job
	if len(names) == 0 {
		for i := range d.refs {
			jobs = append(jobs, job{name: d.refs[i].Name, ref: &d.refs[i]})
		}
		return jobs
	}

	index := make(map[string]*config.ImageRef, len(d.refs))
	for i := range d.refs {
		index[d.refs[i].Name] = &d.refs[i]
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		jobs = append(jobs, job{name: n, ref: index[n]})
	}
	return jobs
}

func (d *Distributor) distribute(ctx context.Context, ref config.ImageRef) outcome.RunOutcome {
	img, err := d.source.Image(ctx, ref.Local)
	if err != nil {
		d.log.Failuref("%s: %s", ref.Name, err)
		return outcome.Failed(outcome.ImagesStage, ref.Name, err)
	}

	tag, err := name.NewTag(ref.Target)
	if err != nil {
		err = fmt.Errorf("invalid target '%s': %w", ref.Target, err)
		d.log.Failuref("%s: %s", ref.Name, err)
		return outcome.Failed(outcome.ImagesStage, ref.Name, err)
	}

	d.log.Infof("importing %s as %s", ref.Local, tag.Name())

	attempts := 0
	err = retry.OnError(d.backoff, func(error) bool {
		return ctx.Err() == nil
	}, func() error {
		attempts++
		return d.transfer(ctx, img, tag)
	})
	if err != nil {
		err = fmt.Errorf("import failed after %d attempt(s): %w", attempts, err)
		d.log.Failuref("%s: %s", ref.Name, err)
		return outcome.Failed(outcome.ImagesStage, ref.Name, err)
	}

	detail := tag.Name()
	if digest, err := img.Digest(); err == nil {
		detail = fmt.Sprintf("%s@%s", tag.Name(), digest.String())
	}
	d.log.Successf("%s imported", ref.Name)
	return outcome.OK(outcome.ImagesStage, ref.Name, detail)
}

// transfer streams the image as a docker archive into the importer.
func (d *Distributor) transfer(ctx context.Context, img gcrv1.Image, tag name.Tag) error {
	pr, pw := io.Pipe()
	writeErr := make(chan error, 1)
	go func() {
		err := tarball.Write(tag, img, pw)
		pw.CloseWithError(err)
		writeErr <- err
	}()

	err := d.importer.Import(ctx, pr)
	// unblock the writer if the importer stopped reading early
	pr.Close()
	werr := <-writeErr

	if err != nil {
		return err
	}
	if werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
		return fmt.Errorf("writing archive failed: %w", werr)
	}
	return nil
}
