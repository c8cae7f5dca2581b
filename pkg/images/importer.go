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
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/shipctl/shipctl/pkg/config"
)

// Importer loads docker archives into the node container runtime.
type Importer interface {
	// Import streams a docker archive into the node image store.
	Import(ctx context.Context, archive io.Reader) error

	// Ping checks that the node runtime is reachable.
	Ping(ctx context.Context) error
}

// NewImporter returns the Importer selected in the node config.
func NewImporter(node config.Node) (Importer, error) {
	switch node.Importer {
	case config.SSHImporter:
		return NewSSHImporter(node.SSH, node.ImportCommand, node.PingCommand)
	case config.ExecImporter, "":
		return NewExecImporter(node.ImportCommand, node.PingCommand, nil)
	default:
		return nil, fmt.Errorf("unknown node importer '%s'", node.Importer)
	}
}

// ExecImporter runs a local command that reads the archive from stdin,
// e.g. 'docker exec -i k3s-server ctr -n k8s.io images import -'.
type ExecImporter struct {
	importArgs []string
	pingArgs   []string
	envVars    []string
}

// NewExecImporter parses the import and ping commands. When the ping command
// is empty, Ping only checks that the import binary is in PATH.
func NewExecImporter(importCommand, pingCommand string, envVars []string) (*ExecImporter, error) {
	importArgs, err := shellwords.Parse(importCommand)
	if err != nil {
		return nil, fmt.Errorf("invalid import command: %w", err)
	}
	if len(importArgs) == 0 {
		return nil, fmt.Errorf("import command is empty")
	}

	pingArgs, err := shellwords.Parse(pingCommand)
	if err != nil {
		return nil, fmt.Errorf("invalid ping command: %w", err)
	}

	return &ExecImporter{
		importArgs: importArgs,
		pingArgs:   pingArgs,
		envVars:    envVars,
	}, nil
}

func (e *ExecImporter) Import(ctx context.Context, archive io.Reader) error {
	cmd := e.buildCmd(ctx, e.importArgs)
	cmd.Stdin = archive
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", e.importArgs[0], err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (e *ExecImporter) Ping(ctx context.Context) error {
	if len(e.pingArgs) == 0 {
		if _, err := exec.LookPath(e.importArgs[0]); err != nil {
			return fmt.Errorf("%s not found: %w", e.importArgs[0], err)
		}
		return nil
	}

	cmd := e.buildCmd(ctx, e.pingArgs)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("node runtime unreachable: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (e *ExecImporter) buildCmd(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if len(e.envVars) > 0 {
		cmd.Env = e.envVars
	}
	return cmd
}
