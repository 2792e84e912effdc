// Package task creates freeform task files in tasks/ and queues them in
// todo/ for the coordinator to pick up.
package task

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	nonWordPattern    = regexp.MustCompile(`[^\w\s-]`)
	whitespacePattern = regexp.MustCompile(`[\s_]+`)
	dashRunPattern    = regexp.MustCompile(`-+`)
)

// Slugify lowercases text and reduces it to a hyphenated identifier.
func Slugify(text string) string {
	slug := strings.ToLower(strings.TrimSpace(text))
	slug = nonWordPattern.ReplaceAllString(slug, "")
	slug = whitespacePattern.ReplaceAllString(slug, "-")
	slug = dashRunPattern.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// Options controls one task creation.
type Options struct {
	Root     string // project root holding tasks/ and todo/
	PlanFile string // optional plan file appended as reference content
	Passes   int    // agent pass count; >1 is encoded in the queue name
}

// Result reports what was created.
type Result struct {
	Title    string
	TaskFile string // tasks/todo-<slug>.md
	Queued   string // the symlink name in todo/, empty if it already existed
}

// Create prompts on in/out for a title and requirements, writes the task
// file, and symlinks it into the queue. The pass count is encoded in the
// symlink name as todo-<slug>.pN.md so the coordinator can read it without
// opening the task file.
func Create(opts Options, in io.Reader, out io.Writer) (Result, error) {
	var res Result
	if opts.Root == "" {
		opts.Root = "."
	}
	if opts.Passes < 1 {
		return res, fmt.Errorf("passes must be at least 1, got %d", opts.Passes)
	}

	var planContent string
	if opts.PlanFile != "" {
		data, err := os.ReadFile(opts.PlanFile)
		if err != nil {
			return res, fmt.Errorf("read plan file: %w", err)
		}
		planContent = string(data)
		fmt.Fprintf(out, "Loaded plan file: %s\n", opts.PlanFile)
	}

	reader := bufio.NewReader(in)
	fmt.Fprintln(out, "\n=== Foreman Task Creator ===")
	fmt.Fprint(out, "Job title: ")
	title, err := readLine(reader)
	if err != nil && title == "" {
		return res, fmt.Errorf("read title: %w", err)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return res, fmt.Errorf("title cannot be empty")
	}
	res.Title = title

	fmt.Fprintln(out, "Requirements (enter a blank line to finish):")
	requirements := readMultiline(reader)

	slug := Slugify(title)
	if slug == "" {
		return res, fmt.Errorf("title %q produces an empty slug", title)
	}
	filename := fmt.Sprintf("todo-%s.md", slug)
	tasksDir := filepath.Join(opts.Root, "tasks")
	taskPath := filepath.Join(tasksDir, filename)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)
	if requirements != "" {
		fmt.Fprintf(&b, "\n## Requirements\n\n%s\n", requirements)
	}
	if planContent != "" {
		fmt.Fprintf(&b, "\n## Plan\n\n%s\n", planContent)
	}

	if err := os.MkdirAll(tasksDir, 0755); err != nil {
		return res, fmt.Errorf("create %s: %w", tasksDir, err)
	}
	if _, err := os.Lstat(taskPath); err == nil {
		return res, fmt.Errorf("%s already exists, choose a different title or remove the existing file", taskPath)
	}
	if err := os.WriteFile(taskPath, []byte(b.String()), 0644); err != nil {
		return res, fmt.Errorf("write task file: %w", err)
	}
	res.TaskFile = taskPath
	fmt.Fprintf(out, "\nCreated:  tasks/%s\n", filename)

	todoDir := filepath.Join(opts.Root, "todo")
	if err := os.MkdirAll(todoDir, 0755); err != nil {
		return res, fmt.Errorf("create %s: %w", todoDir, err)
	}
	linkName := filename
	if opts.Passes > 1 {
		linkName = fmt.Sprintf("%s.p%d.md", strings.TrimSuffix(filename, ".md"), opts.Passes)
	}
	linkPath := filepath.Join(todoDir, linkName)
	target := filepath.Join("..", "tasks", filename)

	if _, err := os.Lstat(linkPath); err == nil {
		fmt.Fprintf(out, "Note: todo/%s already exists, skipping symlink.\n", linkName)
	} else {
		if err := os.Symlink(target, linkPath); err != nil {
			return res, fmt.Errorf("queue %s: %w", linkName, err)
		}
		res.Queued = linkName
		fmt.Fprintf(out, "Queued:   todo/%s -> %s\n", linkName, target)
	}

	fmt.Fprintf(out, "\nTask %q is ready. Run foreman run to process it.\n", title)
	return res, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

// readMultiline collects lines until a blank line or EOF.
func readMultiline(r *bufio.Reader) string {
	var lines []string
	for {
		line, err := readLine(r)
		if line == "" {
			break
		}
		lines = append(lines, line)
		if err != nil {
			break
		}
	}
	return strings.Join(lines, "\n")
}
