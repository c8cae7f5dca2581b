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

package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shipctl/shipctl/pkg/config"
	"github.com/shipctl/shipctl/pkg/logger"
)

// Result is the outcome of a single endpoint probe.
// StatusCode is zero when no response was received.
type Result struct {
	Label      string
	URL        string
	StatusCode int
	Healthy    bool
	Err        error
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s %s: %s", r.Label, r.URL, r.Err)
	}
	return fmt.Sprintf("%s %s: %d", r.Label, r.URL, r.StatusCode)
}

// Verifier issues one GET per probe and classifies the response status.
type Verifier struct {
	client *http.Client
	probes []config.Probe
	log    *logger.Logger
}

func NewVerifier(probes []config.Probe, timeout time.Duration, log *logger.Logger) *Verifier {
	return &Verifier{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		probes: probes,
		log:    log,
	}
}

// Verify runs every probe and returns the results in probe order.
func (v *Verifier) Verify(ctx context.Context) []Result {
	results := make([]Result, 0, len(v.probes))
	for _, probe := range v.probes {
		result := v.probe(ctx, probe)
		if result.Healthy {
			v.log.Successf("%s healthy (%d)", probe.Label, result.StatusCode)
		} else {
			v.log.Warnf("%s unhealthy: %s", probe.Label, result)
		}
		results = append(results, result)
	}
	return results
}

// Healthy counts the healthy results.
func Healthy(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Healthy {
			n++
		}
	}
	return n
}

// IsHealthy classifies 2xx and 3xx as healthy.
func IsHealthy(statusCode int) bool {
	return statusCode >= 200 && statusCode < 400
}

func (v *Verifier) probe(ctx context.Context, probe config.Probe) Result {
	result := Result{Label: probe.Label, URL: probe.URL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe.URL, nil)
	if err != nil {
		result.Err = err
		return result
	}

	resp, err := v.client.Do(req)
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	result.StatusCode = resp.StatusCode
	result.Healthy = IsHealthy(resp.StatusCode)
	return result
}
