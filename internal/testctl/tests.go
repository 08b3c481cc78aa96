package testctl

import (
	"context"
)

func runGoTests() error {
	info("==== Run Go tests ====")
	return runEnvCmdStreaming(context.Background(), nil, "go", "test", "./...")
}

func runE2ETests() error {
	info("==== Run control API end-to-end tests ====")
	return runEnvCmdStreaming(context.Background(), nil, "go", "test", "-count=1", "-v", "./internal/e2e/...")
}

// runLlamaTests runs the local runtime tests against the cgo binding.
func runLlamaTests() error {
	info("==== Run llama runtime tests ====")
	dir := llamaDir()
	if !pathExists(dir) {
		warn("go-llama.cpp not found at %s; run `testctl install go-llama.cpp` first", dir)
	}
	return runEnvCmdStreaming(context.Background(), llamaEnv(dir), "go", "test", "-tags=llama", "./internal/llm/...")
}

func runVerify() error {
	info("==== Verify (vet, race) ====")
	ctx := context.Background()
	if err := runCmdVerbose(ctx, "go", "vet", "./..."); err != nil {
		return err
	}
	return runCmdVerbose(ctx, "go", "test", "-race", "./internal/generation/...", "./internal/backend/...", "./internal/stream/...")
}
