package worktree

import (
	"bufio"
	"path/filepath"
	"strings"
)

// Entry is one record of `git worktree list --porcelain`.
type Entry struct {
	Path     string
	Commit   string
	Branch   string
	Bare     bool
	Detached bool
	Locked   bool
	Prunable bool
}

// porcelainParser accumulates the entry introduced by the most recent
// "worktree" line. Attribute lines seen before any "worktree" line are dropped.
type porcelainParser struct {
	defaultBranch string
	current       *Entry
	entries       []Entry
}

// fieldHandlers maps a porcelain attribute label to the field it sets.
// Labels are matched on the first space-separated token of the line.
var fieldHandlers = map[string]func(p *porcelainParser, value string){
	"worktree": func(p *porcelainParser, value string) {
		p.flush()
		p.current = &Entry{Path: filepath.Clean(value)}
	},
	"HEAD": func(p *porcelainParser, value string) {
		p.current.Commit = value
	},
	"branch": func(p *porcelainParser, value string) {
		p.current.Branch = strings.TrimPrefix(value, "refs/heads/")
	},
	"bare": func(p *porcelainParser, _ string) {
		p.current.Bare = true
	},
	"detached": func(p *porcelainParser, _ string) {
		p.current.Detached = true
	},
	"locked": func(p *porcelainParser, _ string) {
		p.current.Locked = true
	},
	"prunable": func(p *porcelainParser, _ string) {
		p.current.Prunable = true
	},
}

func (p *porcelainParser) line(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		p.flush()
		return
	}

	label, value, _ := strings.Cut(line, " ")
	handler, ok := fieldHandlers[label]
	if !ok {
		return
	}
	if p.current == nil && label != "worktree" {
		return
	}
	handler(p, value)
}

// flush closes the current entry. A bare entry without a branch line gets
// the default branch name.
func (p *porcelainParser) flush() {
	if p.current == nil {
		return
	}
	if p.current.Bare && p.current.Branch == "" {
		p.current.Branch = p.defaultBranch
	}
	p.entries = append(p.entries, *p.current)
	p.current = nil
}

// ParsePorcelain parses `git worktree list --porcelain` output, preserving
// the order in which git emitted the entries. Bare entries with no branch
// report defaultBranch.
func ParsePorcelain(output, defaultBranch string) []Entry {
	p := &porcelainParser{defaultBranch: defaultBranch}

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.line(scanner.Text())
	}
	p.flush()

	return p.entries
}
