// Package prepare numbers specification files and their user stories so
// structured jobs dispatch in a deterministic order.
package prepare

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	numberedPattern = regexp.MustCompile(`^prd-(\d{2})-.+\.md$`)
	storyPattern    = regexp.MustCompile(`(?i)US-(\d+)`)
)

// maxNumber is the highest two-digit prefix; files beyond it are skipped
// rather than renamed with a wider prefix.
const maxNumber = 99

// Options controls one prepare run.
type Options struct {
	Dir  string // directory holding specification files, usually tasks/
	Link bool   // also symlink each newly numbered file into todo/
	Root string // project root, used to place todo/ when linking
}

// Result reports what a run changed.
type Result struct {
	Renamed []Rename
	Skipped []string // files that would exceed the numbering cap
	Linked  []string // symlink names created in todo/
}

type Rename struct {
	Old string
	New string
}

// Run assigns prd-NN- prefixes to un-numbered prd-*.md files in mtime
// order, continuing from the highest existing number, then renumbers the
// user stories inside each newly numbered file so story identifiers stay
// globally unique across the directory.
func Run(opts Options, out io.Writer) (Result, error) {
	var res Result
	if opts.Dir == "" {
		opts.Dir = "tasks"
	}
	if opts.Root == "" {
		opts.Root = "."
	}

	dirents, err := os.ReadDir(opts.Dir)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", opts.Dir, err)
	}

	type numbered struct {
		name string
		num  int
	}
	var numberedFiles []numbered
	var unnumbered []os.DirEntry
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		if m := numberedPattern.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[1])
			numberedFiles = append(numberedFiles, numbered{name: name, num: n})
		} else if strings.HasPrefix(name, "prd-") {
			unnumbered = append(unnumbered, de)
		}
	}

	maxNum := 0
	for _, nf := range numberedFiles {
		if nf.num > maxNum {
			maxNum = nf.num
		}
	}

	sort.Slice(unnumbered, func(i, j int) bool {
		return mtime(unnumbered[i]) < mtime(unnumbered[j])
	})

	next := maxNum + 1
	for _, de := range unnumbered {
		name := de.Name()
		if next > maxNumber {
			fmt.Fprintf(out, "Skip %s: would exceed %d\n", name, maxNumber)
			res.Skipped = append(res.Skipped, name)
			continue
		}
		newName := fmt.Sprintf("prd-%02d-%s", next, strings.TrimPrefix(name, "prd-"))
		if err := os.Rename(filepath.Join(opts.Dir, name), filepath.Join(opts.Dir, newName)); err != nil {
			return res, fmt.Errorf("rename %s: %w", name, err)
		}
		res.Renamed = append(res.Renamed, Rename{Old: name, New: newName})
		next++
	}

	// Continue story numbering from the highest identifier already used
	// by the previously numbered files
	maxStory := 0
	for _, nf := range numberedFiles {
		data, err := os.ReadFile(filepath.Join(opts.Dir, nf.name))
		if err != nil {
			return res, fmt.Errorf("read %s: %w", nf.name, err)
		}
		for _, m := range storyPattern.FindAllStringSubmatch(string(data), -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n > maxStory {
				maxStory = n
			}
		}
	}

	counter := maxStory + 1
	for _, rn := range res.Renamed {
		path := filepath.Join(opts.Dir, rn.New)
		data, err := os.ReadFile(path)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", rn.New, err)
		}
		content := string(data)
		if !storyPattern.MatchString(content) {
			continue
		}
		content = storyPattern.ReplaceAllStringFunc(content, func(string) string {
			s := fmt.Sprintf("US-%03d", counter)
			counter++
			return s
		})
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return res, fmt.Errorf("write %s: %w", rn.New, err)
		}
	}

	fmt.Fprintf(out, "Processed %d PRD files\n", len(res.Renamed))

	if opts.Link && len(res.Renamed) > 0 {
		todoDir := filepath.Join(opts.Root, "todo")
		if err := os.MkdirAll(todoDir, 0755); err != nil {
			return res, fmt.Errorf("create %s: %w", todoDir, err)
		}
		for _, rn := range res.Renamed {
			linkPath := filepath.Join(todoDir, rn.New)
			target := filepath.Join("..", filepath.Base(opts.Dir), rn.New)
			if _, err := os.Lstat(linkPath); err == nil {
				fmt.Fprintf(out, "Skip symlink (already exists): %s\n", linkPath)
				continue
			}
			if err := os.Symlink(target, linkPath); err != nil {
				return res, fmt.Errorf("link %s: %w", rn.New, err)
			}
			res.Linked = append(res.Linked, rn.New)
			fmt.Fprintf(out, "Linked: todo/%s -> %s\n", rn.New, target)
		}
	}

	return res, nil
}

func mtime(de os.DirEntry) int64 {
	info, err := de.Info()
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}
