package ralph

import (
	"context"
	"fmt"
	"testing"
)

func TestParseProgress_PrimaryForm(t *testing.T) {
	tests := []struct {
		name   string
		status string
		done   int
		total  int
		ok     bool
	}{
		{"plain", "Progress: 3/7 complete", 3, 7, true},
		{"embedded", "Loop running\nProgress: 0/4 complete\nNext: task 1", 0, 4, true},
		{"all done", "Progress: 5/5 complete", 5, 5, true},
		{"no progress line", "Loop is running fine", 0, 0, false},
		{"empty", "", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := ParseProgress(tt.status)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && (p.Done != tt.done || p.Total != tt.total) {
				t.Errorf("expected %d/%d, got %d/%d", tt.done, tt.total, p.Done, p.Total)
			}
		})
	}
}

func TestParseProgress_ChecklistFallback(t *testing.T) {
	status := "Tasks:\n  1. ✅ set up repo\n  2. ✅ add config\n  3. ⏳ write tests\n"
	p, ok := ParseProgress(status)
	if !ok {
		t.Fatal("expected fallback parse to succeed")
	}
	if p.Done != 2 || p.Total != 3 {
		t.Errorf("expected 2/3, got %d/%d", p.Done, p.Total)
	}
}

func TestNoActiveLoop(t *testing.T) {
	if !NoActiveLoop("No active loop found.") {
		t.Error("expected no-active-loop detection")
	}
	if NoActiveLoop("Progress: 1/2 complete") {
		t.Error("did not expect no-active-loop")
	}
}

func TestAllComplete(t *testing.T) {
	if !AllComplete("Progress: 4/4 complete") {
		t.Error("expected all complete")
	}
	if AllComplete("Progress: 3/4 complete") {
		t.Error("did not expect all complete")
	}
	if AllComplete("Progress: 0/0 complete") {
		t.Error("zero tasks must not count as complete")
	}
	if AllComplete("No active loop") {
		t.Error("unparseable status must not count as complete")
	}
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		wantErr bool
	}{
		{"patched fork", "ralph 0.9.3-logfile\n", false},
		{"stock build", "ralph 0.9.3\n", true},
		{"empty output", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient("ralph", 5)
			c.SetRunner(func(ctx context.Context, name string, args ...string) (string, error) {
				if len(args) != 1 || args[0] != "--version" {
					t.Errorf("unexpected args: %v", args)
				}
				return tt.output, nil
			})
			_, err := c.CheckVersion(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("expected err=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCheckVersion_RunnerError(t *testing.T) {
	c := NewClient("ralph", 5)
	c.SetRunner(func(ctx context.Context, name string, args ...string) (string, error) {
		return "", fmt.Errorf("executable not found")
	})
	if _, err := c.CheckVersion(context.Background()); err == nil {
		t.Error("expected error when the binary cannot run")
	}
}

func TestStatus_PassesArgs(t *testing.T) {
	c := NewClient("ralph", 5)
	c.SetRunner(func(ctx context.Context, name string, args ...string) (string, error) {
		if name != "ralph" {
			t.Errorf("unexpected binary %q", name)
		}
		if len(args) != 2 || args[0] != "--status" || args[1] != "--tasks" {
			t.Errorf("unexpected args: %v", args)
		}
		return "Progress: 1/3 complete", nil
	})

	out, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if out != "Progress: 1/3 complete" {
		t.Errorf("unexpected output %q", out)
	}
}
