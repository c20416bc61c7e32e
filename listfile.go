// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
)

// parseListFile splits a (listfile) into names. Entries may be separated by
// CR, LF or ';'.
func parseListFile(data []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), len(data)+1)
	sc.Split(splitListFile)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func splitListFile(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexAny(data, "\r\n;"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func buildListFile(names []string) []byte {
	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

// loadListFile reads (listfile) and records the name of every block it can
// match. It reports whether the archive has a listfile.
func (a *Archive) loadListFile() (bool, error) {
	ref, err := a.find(listFileName)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return true, err
	}

	data, err := a.readRef(ref)
	if err != nil {
		return true, err
	}
	for _, name := range parseListFile(data) {
		a.learnName(name)
	}
	return true, nil
}

// learnName attaches name to every block whose hash entry matches it.
func (a *Archive) learnName(name string) {
	canonical, err := canonicalName(name)
	if err != nil {
		return
	}
	h := hashName(canonical)
	a.hashes.probe(h, func(_ uint32, e *hashTableEntry) bool {
		if e.live() && e.HashA == h.a && e.HashB == h.b && int(e.BlockIndex) < len(a.meta) {
			if a.meta[e.BlockIndex].name == "" {
				a.meta[e.BlockIndex].name = canonical
			}
		}
		return true
	})
}

// userNames returns the known names of live user files in block order.
func (a *Archive) userNames() []string {
	seen := make(map[string]bool)
	var names []string
	for i := range a.blocks.entries {
		name := a.meta[i].name
		if name == "" || !a.blocks.entries[i].exists() || isInternalName(name) || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
