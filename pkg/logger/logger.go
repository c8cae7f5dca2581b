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

package logger

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Logger writes human-readable status lines, one per action.
// Colors are only emitted when the output is a terminal.
type Logger struct {
	mu  sync.Mutex
	out io.Writer

	info    lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	failure lipgloss.Style
}

// New returns a Logger that writes to w.
func New(w io.Writer) *Logger {
	l := &Logger{}
	l.SetOutput(w)
	return l
}

// Discard returns a Logger that drops every line.
func Discard() *Logger {
	return New(io.Discard)
}

// SetOutput redirects the logger and recomputes the color profile for w.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := lipgloss.NewRenderer(w)
	l.out = w
	l.info = r.NewStyle().Foreground(lipgloss.Color("12"))
	l.success = r.NewStyle().Foreground(lipgloss.Color("10"))
	l.warn = r.NewStyle().Foreground(lipgloss.Color("11"))
	l.failure = r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
}

// Println writes the operands separated by spaces, without a status prefix.
func (l *Logger) Println(a ...interface{}) {
	l.write(fmt.Sprintln(a...))
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.line(&l.info, "►", format, a...)
}

func (l *Logger) Successf(format string, a ...interface{}) {
	l.line(&l.success, "✔", format, a...)
}

func (l *Logger) Warnf(format string, a ...interface{}) {
	l.line(&l.warn, "⚠", format, a...)
}

func (l *Logger) Failuref(format string, a ...interface{}) {
	l.line(&l.failure, "✗", format, a...)
}

func (l *Logger) line(style *lipgloss.Style, prefix, format string, a ...interface{}) {
	msg := strings.TrimSuffix(fmt.Sprintf(format, a...), "\n")
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, style.Render(prefix)+" "+msg+"\n")
}

func (l *Logger) write(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, s)
}
