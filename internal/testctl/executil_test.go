package testctl

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStreamCountsLines(t *testing.T) {
	if n := stream("OUT", strings.NewReader("a\nb\n\nc")); n != 4 {
		t.Fatalf("expected 4 lines, got %d", n)
	}
}

func TestRunCmd(t *testing.T) {
	dir := t.TempDir()
	err := RunCmd(context.Background(), Cmd{
		Path: "sh",
		Args: []string{"-c", `printf "$TESTCTL_VALUE" > out.txt`},
		Env:  map[string]string{"TESTCTL_VALUE": "ok"},
		Dir:  dir,
	})
	if err != nil {
		t.Fatalf("RunCmd: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil || string(b) != "ok" {
		t.Fatalf("unexpected output %q (%v)", b, err)
	}
	if err := runEnvCmdStreaming(context.Background(), nil, "sh", "-c", "echo hi; exit 3"); err == nil {
		t.Fatalf("expected non-zero exit error")
	}
}

func TestPathExists(t *testing.T) {
	if !pathExists(t.TempDir()) {
		t.Fatal("temp dir should exist")
	}
	if pathExists(filepath.Join(t.TempDir(), "nope")) {
		t.Fatal("missing path reported as existing")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TESTCTL_X", "12")
	if envInt("TESTCTL_X", 1) != 12 || envInt("TESTCTL_MISSING", 7) != 7 {
		t.Fatal("envInt")
	}
	t.Setenv("TESTCTL_X", "abc")
	if envInt("TESTCTL_X", 5) != 5 || envStr("TESTCTL_X", "d") != "abc" {
		t.Fatal("env fallback")
	}
}
