// Package ralph is the surface to the external loop driver: the version
// precondition at startup and the --status probe the coordinator polls.
package ralph

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// VersionSuffix identifies the patched driver fork that supports
// --log-file. Running against an unpatched driver loses the stream log,
// so startup refuses anything else.
const VersionSuffix = "-logfile"

const versionTimeout = 10 * time.Second

// Runner executes an external command and returns its combined output.
// Injected in tests.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

// Client runs the loop driver's read-only subcommands.
type Client struct {
	binary  string
	timeout time.Duration
	group   singleflight.Group
	runner  Runner
}

func NewClient(binary string, statusTimeoutSec int) *Client {
	return &Client{
		binary:  binary,
		timeout: time.Duration(statusTimeoutSec) * time.Second,
		runner:  runCombined,
	}
}

// SetRunner overrides command execution for testing.
func (c *Client) SetRunner(r Runner) {
	c.runner = r
}

// CheckVersion verifies the driver binary exists and is the patched fork.
func (c *Client) CheckVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	out, err := c.runner(ctx, c.binary, "--version")
	if err != nil {
		return "", fmt.Errorf("run %s --version: %w", c.binary, err)
	}
	version := strings.TrimSpace(out)
	if !strings.HasSuffix(version, VersionSuffix) {
		return version, fmt.Errorf("%s version %q is not the patched fork (expected suffix %q)",
			c.binary, version, VersionSuffix)
	}
	return version, nil
}

// Status runs `ralph --status --tasks` and returns the combined output.
// Concurrent callers are coalesced into one probe: the heartbeat tick and
// an event-triggered scan landing together must not stack driver
// invocations.
func (c *Client) Status(ctx context.Context) (string, error) {
	out, err, _ := c.group.Do("status", func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.runner(ctx, c.binary, "--status", "--tasks")
	})
	if err != nil {
		return "", fmt.Errorf("run %s --status --tasks: %w", c.binary, err)
	}
	return out.(string), nil
}

func runCombined(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return string(out), fmt.Errorf("timeout: %w", ctx.Err())
		}
		// The driver prints status to stderr on some paths and still
		// exits non-zero when no loop exists; callers parse whatever
		// text came back.
		if len(out) > 0 {
			return string(out), nil
		}
		return "", err
	}
	return string(out), nil
}
