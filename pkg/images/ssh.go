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
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/shipctl/shipctl/pkg/config"
)

// SSHImporter pipes docker archives into a command executed on the node over SSH.
type SSHImporter struct {
	addr          string
	clientConfig  *ssh.ClientConfig
	timeout       time.Duration
	importCommand string
	pingCommand   string
}

// NewSSHImporter loads the private key and, if set, the known hosts file.
// Without a known hosts file the node host key is not verified.
func NewSSHImporter(opts *config.SSH, importCommand, pingCommand string) (*SSHImporter, error) {
	if opts == nil {
		return nil, fmt.Errorf("ssh importer requires the node.ssh config")
	}

	key, err := os.ReadFile(opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading SSH key failed: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse SSH private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if opts.KnownHostsFile != "" {
		hostKeyCallback, err = knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("reading known hosts failed: %w", err)
		}
	}

	if pingCommand == "" {
		pingCommand = "true"
	}

	return &SSHImporter{
		addr: net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		clientConfig: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         opts.ConnectTimeout.Duration,
		},
		timeout:       opts.ConnectTimeout.Duration,
		importCommand: importCommand,
		pingCommand:   pingCommand,
	}, nil
}

func (s *SSHImporter) Import(ctx context.Context, archive io.Reader) error {
	return s.run(ctx, s.importCommand, archive)
}

func (s *SSHImporter) Ping(ctx context.Context) error {
	if err := s.run(ctx, s.pingCommand, nil); err != nil {
		return fmt.Errorf("node runtime unreachable: %w", err)
	}
	return nil
}

func (s *SSHImporter) dial(ctx context.Context) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", s.addr, err)
	}

	// ClientConfig.Timeout only applies to ssh.Dial
	if s.timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("SSH dial %s: %w", s.addr, err)
		}
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, s.addr, s.clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake %s: %w", s.addr, err)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.Close()
		return nil, fmt.Errorf("SSH handshake %s: %w", s.addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func (s *SSHImporter) run(ctx context.Context, command string, stdin io.Reader) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer session.Close()

	var output bytes.Buffer
	session.Stdin = stdin
	session.Stdout = &output
	session.Stderr = &output

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		client.Close()
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("'%s' failed: %w: %s", command, err, strings.TrimSpace(output.String()))
		}
		return nil
	}
}
