// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bureau-foundation/liveprobe/lib/probe"
)

// Installer places probes at their code locations.
type Installer interface {
	Install(p probe.Probe) error
	Uninstall(p probe.Probe) error
}

// NopInstaller accepts every probe. The engine's catalog is then the
// whole effect of an apply.
type NopInstaller struct{}

func (NopInstaller) Install(probe.Probe) error   { return nil }
func (NopInstaller) Uninstall(probe.Probe) error { return nil }

// ErrNoSuchLine is wrapped by SourceInstaller when a probe names a
// line that is blank, a comment, or past the end of the file.
var ErrNoSuchLine = errors.New("no code at line")

// SourceInstaller checks probe locations against a source tree: the
// file must exist under Root and every line must hold code. Line
// tables are read once per file.
type SourceInstaller struct {
	Root string

	mu     sync.Mutex
	tables map[string][]bool
}

func (s *SourceInstaller) Install(p probe.Probe) error {
	codeLines, err := s.table(p.Where.SourceFile)
	if err != nil {
		return err
	}
	for _, line := range p.Where.Lines {
		if line > len(codeLines) || !codeLines[line-1] {
			return fmt.Errorf("%s:%d: %w", p.Where.SourceFile, line, ErrNoSuchLine)
		}
	}
	return nil
}

func (s *SourceInstaller) Uninstall(probe.Probe) error { return nil }

// table returns, for each line of file, whether it holds code.
func (s *SourceInstaller) table(file string) ([]bool, error) {
	clean := filepath.Clean("/" + filepath.ToSlash(file))
	path := filepath.Join(s.Root, clean)

	s.mu.Lock()
	defer s.mu.Unlock()
	if codeLines, ok := s.tables[path]; ok {
		return codeLines, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resolving source file %s: %w", file, err)
	}
	var codeLines []bool
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		codeLines = append(codeLines, text != "" && !strings.HasPrefix(text, "//"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading source file %s: %w", file, err)
	}

	if s.tables == nil {
		s.tables = make(map[string][]bool)
	}
	s.tables[path] = codeLines
	return codeLines, nil
}
