package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/foreman-sh/foreman/internal/coordinator"
	"github.com/foreman-sh/foreman/internal/model"
	"github.com/foreman-sh/foreman/internal/prepare"
	"github.com/foreman-sh/foreman/internal/ralph"
	"github.com/foreman-sh/foreman/internal/status"
	"github.com/foreman-sh/foreman/internal/task"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "add":
		runAdd(os.Args[2:])
	case "prepare":
		runPrepare(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "version":
		fmt.Printf("foreman %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func loadConfig(root string) model.Config {
	cfg, err := model.LoadConfig(filepath.Join(root, model.ConfigFileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "foreman: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runRun(args []string) {
	// Flags are parsed before the config is read so --root decides where
	// the config lives; parsed values are applied after as overrides.
	root := "."
	var pollInterval, statusInterval, maxIterations int
	var agent, modelName string
	var noAllowAll bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--poll-interval":
			pollInterval = intArg(args, &i)
		case "--status-interval":
			statusInterval = intArg(args, &i)
		case "--max-iterations":
			maxIterations = intArg(args, &i)
		case "--agent":
			agent = strArg(args, &i)
		case "--model":
			modelName = strArg(args, &i)
		case "--no-allow-all":
			noAllowAll = true
		case "--root":
			root = strArg(args, &i)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			os.Exit(1)
		}
	}

	cfg := loadConfig(root)
	if pollInterval > 0 {
		cfg.Coordinator.PollIntervalSec = pollInterval
	}
	if statusInterval > 0 {
		cfg.Coordinator.StatusIntervalSec = statusInterval
	}
	if maxIterations > 0 {
		cfg.Ralph.MaxIterations = maxIterations
	}
	if agent != "" {
		cfg.Ralph.Agent = agent
	}
	if modelName != "" {
		cfg.Ralph.Model = modelName
		cfg.Agent.Model = modelName
	}
	if noAllowAll {
		cfg.Ralph.NoAllowAll = true
	}

	c, err := coordinator.New(root, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "foreman: %v\n", err)
		os.Exit(1)
	}

	// The driver must support --log-file; refuse to start against one
	// that silently ignores it.
	if _, err := c.Ralph().CheckVersion(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "foreman: %v\n", err)
		os.Exit(1)
	}

	if err := c.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "foreman: %v\n", err)
		os.Exit(1)
	}
}

func runAdd(args []string) {
	opts := task.Options{Root: ".", Passes: 1}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f", "--file":
			opts.PlanFile = strArg(args, &i)
		case "-p", "--passes":
			opts.Passes = intArg(args, &i)
		case "--root":
			opts.Root = strArg(args, &i)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			os.Exit(1)
		}
	}

	if _, err := task.Create(opts, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "foreman: %v\n", err)
		os.Exit(1)
	}
}

func runPrepare(args []string) {
	opts := prepare.Options{Dir: "tasks", Root: "."}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dir":
			opts.Dir = strArg(args, &i)
		case "--link":
			opts.Link = true
		case "--root":
			opts.Root = strArg(args, &i)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			os.Exit(1)
		}
	}

	if _, err := prepare.Run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "foreman: %v\n", err)
		os.Exit(1)
	}
}

func runStatus(args []string) {
	root := "."
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--root":
			root = strArg(args, &i)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			os.Exit(1)
		}
	}

	cfg := loadConfig(root).WithDefaults()
	rp := &status.Reporter{
		Root:  root,
		Ralph: ralph.NewClient(cfg.Ralph.Binary, cfg.Ralph.StatusTimeoutSec),
	}
	if err := rp.Report(context.Background(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "foreman: %v\n", err)
		os.Exit(1)
	}
}

func strArg(args []string, i *int) string {
	if *i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", args[*i])
		os.Exit(1)
	}
	*i++
	return args[*i]
}

func intArg(args []string, i *int) int {
	v := strArg(args, i)
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s requires an integer, got %q\n", args[*i-1], v)
		os.Exit(1)
	}
	return n
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `foreman %s - filesystem task queue coordinator

Usage: foreman <command> [options]

Commands:
  run       Watch todo/ and dispatch queued jobs one at a time
  add       Create a task file and queue it
  prepare   Number PRD files and user stories in tasks/
  status    Show archive history and active loop status
  version   Print version
  help      Show this help

Run options:
  --poll-interval N    Queue scan interval in seconds (default 5)
  --status-interval N  Progress probe interval in seconds (default 30)
  --max-iterations N   Iteration cap passed to the loop driver (default 3)
  --agent NAME         Agent the loop driver should use (default claude-code)
  --model NAME         Model override for both job kinds
  --no-allow-all       Do not pass permissive flags to agents
  --root DIR           Project root (default .)

Add options:
  -f, --file FILE      Plan file to include as reference content
  -p, --passes N       Agent pass count, encoded in the queue name (default 1)

Prepare options:
  --dir DIR            Directory of specification files (default tasks)
  --link               Symlink newly numbered files into todo/
`, version)
}
