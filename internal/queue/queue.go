// Package queue scans the todo/ directory and classifies its entries into
// execution strategies.
package queue

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/foreman-sh/foreman/internal/model"
)

var (
	// prd-{number}-{anything}.md → structured (iteration-loop driver)
	prdPattern = regexp.MustCompile(`^prd-(\d+)-.+\.md$`)
	// todo-{anything}.md, optionally with a .pN pass-count suffix before
	// .md → freeform (two-pass direct execution)
	todoPattern = regexp.MustCompile(`^todo-.+\.md$`)
	passPattern = regexp.MustCompile(`\.p(\d+)\.md$`)
)

// Entry is a queue entry: a named reference in todo/ pointing at a
// specification file. The name is the job identifier.
type Entry struct {
	Name   string        // symlink name, unique job identifier
	Kind   model.JobKind
	Number int // structured prd number; -1 for freeform
	Passes int           // pass count encoded in a freeform name (informational)
	Path   string        // todo/<name>
	Target string        // resolved specification file
}

// Stem is the entry name without its .md suffix, used for archive naming.
func (e Entry) Stem() string {
	return strings.TrimSuffix(e.Name, ".md")
}

// Classify maps an entry name to its execution strategy. Names matching
// neither convention are a classification error: the entry is left in
// place for an operator to rename.
func Classify(name string) (Entry, error) {
	if m := prdPattern.FindStringSubmatch(name); m != nil {
		n, _ := strconv.Atoi(m[1])
		return Entry{Name: name, Kind: model.KindStructured, Number: n, Passes: 0}, nil
	}
	if todoPattern.MatchString(name) {
		passes := 1
		if m := passPattern.FindStringSubmatch(name); m != nil {
			passes, _ = strconv.Atoi(m[1])
		}
		return Entry{Name: name, Kind: model.KindFreeform, Number: -1, Passes: passes}, nil
	}
	return Entry{}, fmt.Errorf("entry %q matches neither prd-NN-*.md nor todo-*.md", name)
}

// Scan lists the queue directory and returns classified entries in
// dispatch order: structured entries ascending by prd number (ties broken
// by name), then freeform entries ascending by name. Broken symlinks,
// unclassifiable names, and duplicate targets are logged and skipped;
// skipped entries stay on disk.
func Scan(dir string, logger *log.Logger) []Entry {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			warn(logger, "read queue dir %s: %v", dir, err)
		}
		return nil
	}

	seen := make(map[string]string) // resolved target → first entry name
	var entries []Entry
	for _, de := range dirents {
		name := de.Name()
		entry, err := Classify(name)
		if err != nil {
			warn(logger, "classification error: %v (leaving entry in place)", err)
			continue
		}

		path := filepath.Join(dir, name)
		// Stat follows symlinks, so broken links are skipped here
		if _, err := os.Stat(path); err != nil {
			warn(logger, "skip %s: %v", name, err)
			continue
		}
		target, err := filepath.EvalSymlinks(path)
		if err != nil {
			warn(logger, "skip %s: resolve target: %v", name, err)
			continue
		}
		if first, dup := seen[target]; dup {
			warn(logger, "skip %s: same target as %s", name, first)
			continue
		}
		seen[target] = name

		entry.Path = path
		entry.Target = target
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if (a.Kind == model.KindStructured) != (b.Kind == model.KindStructured) {
			return a.Kind == model.KindStructured
		}
		if a.Kind == model.KindStructured && a.Number != b.Number {
			return a.Number < b.Number
		}
		return a.Name < b.Name
	})

	return entries
}

func warn(logger *log.Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	logger.Printf("%s WARN queue: %s", time.Now().Format(time.RFC3339), msg)
}
