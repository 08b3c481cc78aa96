package testctl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const goLlamaRepo = "https://github.com/go-skynet/go-llama.cpp.git"

// llamaDir is where the go-llama.cpp binding is checked out and built.
func llamaDir() string {
	if v := os.Getenv("GO_LLAMA_DIR"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "src", "go-llama.cpp")
}

// llamaEnv is the cgo environment for building with -tags=llama.
func llamaEnv(dir string) map[string]string {
	return map[string]string{
		"CGO_ENABLED":    "1",
		"LIBRARY_PATH":   dir,
		"C_INCLUDE_PATH": dir,
	}
}

// installGoLlama clones (or updates) go-llama.cpp with its llama.cpp submodule
// and builds libbinding.a. cuda selects the cuBLAS build.
func installGoLlama(cuda bool) error {
	dir := llamaDir()
	ctx := context.Background()
	if !pathExists(dir) {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return err
		}
		info("[llama] Cloning go-llama.cpp into %s", dir)
		if err := runCmdVerbose(ctx, "git", "clone", "--recurse-submodules", goLlamaRepo, dir); err != nil {
			return err
		}
	} else {
		info("[llama] Updating go-llama.cpp in %s", dir)
		_ = runCmdVerbose(ctx, "git", "-C", dir, "pull", "--ff-only")
		_ = runCmdVerbose(ctx, "git", "-C", dir, "submodule", "update", "--init", "--recursive")
	}

	args := []string{"-C", dir, "libbinding.a"}
	if cuda {
		args = append([]string{"BUILD_TYPE=cublas"}, args...)
	}
	info("[llama] Building libbinding.a (cuda=%v)", cuda)
	if err := runCmdVerbose(ctx, "make", args...); err != nil {
		return err
	}
	lib := filepath.Join(dir, "libbinding.a")
	if fi, err := os.Stat(lib); err != nil || fi.IsDir() {
		return fmt.Errorf("libbinding.a not found at %s", lib)
	}
	info("[llama] Built: %s", lib)
	info("[llama] Build promptline with: LIBRARY_PATH=%s C_INCLUDE_PATH=%s go build -tags=llama ./cmd/promptline", dir, dir)
	return nil
}
