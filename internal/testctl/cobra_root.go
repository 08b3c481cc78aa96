package testctl

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// Config holds the persistent flags.
type Config struct {
	LogLvl string
}

// buildRootCmdWith constructs a Cobra command tree wired to the fn* actions.
func buildRootCmdWith(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "testctl",
		Short:         "Test and dev utilities for promptline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.LogLvl, "log-level", cfg.LogLvl, "Log level: debug|info|warn|error (defaults TESTCTL_LOG_LEVEL or info)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) { SetLogLevel(cfg.LogLvl) }

	// install group
	installCmd := &cobra.Command{Use: "install", Short: "Install native dependencies", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("install requires a subcommand: go-llama.cpp|go-llama.cpp:cuda")
	}}
	installCmd.AddCommand(
		&cobra.Command{Use: "go-llama.cpp", Short: "Build the go-llama.cpp binding (CPU)", RunE: func(cmd *cobra.Command, args []string) error { return fnInstallGoLlama(false) }},
		&cobra.Command{Use: "go-llama.cpp:cuda", Short: "Build the go-llama.cpp binding with cuBLAS", RunE: func(cmd *cobra.Command, args []string) error { return fnInstallGoLlama(true) }},
	)
	root.AddCommand(installCmd)

	// test group
	testCmd := &cobra.Command{Use: "test", Short: "Run tests", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("test requires a subcommand: go|e2e|llama|all")
	}}
	testCmd.AddCommand(
		&cobra.Command{Use: "go", Short: "Run Go unit tests", RunE: func(cmd *cobra.Command, args []string) error { return fnRunGoTests() }},
		&cobra.Command{Use: "e2e", Short: "Run control API end-to-end tests", RunE: func(cmd *cobra.Command, args []string) error { return fnRunE2ETests() }},
		&cobra.Command{Use: "llama", Short: "Run local runtime tests (-tags=llama)", RunE: func(cmd *cobra.Command, args []string) error { return fnRunLlamaTests() }},
		&cobra.Command{Use: "all", Short: "Go then e2e", RunE: func(cmd *cobra.Command, args []string) error {
			if err := fnRunGoTests(); err != nil {
				return err
			}
			return fnRunE2ETests()
		}},
	)
	root.AddCommand(testCmd)

	root.AddCommand(&cobra.Command{Use: "verify", Short: "go vet plus race tests on the concurrent packages", RunE: func(cmd *cobra.Command, args []string) error { return fnRunVerify() }})

	// mock provider
	var port int
	var delay time.Duration
	mockCmd := &cobra.Command{
		Use:     "mock <kobold|openai>",
		Short:   "Serve a fake streaming provider",
		Example: "  testctl mock kobold --port 5001\n  testctl mock openai --delay 200ms",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flavor, err := ParseMockFlavor(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return fnServeMock(ctx, &MockProvider{Flavor: flavor, Delay: delay}, port)
		},
	}
	mockCmd.Flags().IntVar(&port, "port", envInt("TESTCTL_MOCK_PORT", 5001), "Preferred port; a free one is chosen when busy")
	mockCmd.Flags().DurationVar(&delay, "delay", 50*time.Millisecond, "Pause between streamed tokens")
	root.AddCommand(mockCmd)

	return root
}

// MainWithArgs runs testctl and returns the process exit code.
func MainWithArgs(args []string) int {
	if len(args) == 0 {
		_ = buildRootCmdWith(&Config{LogLvl: envStr("TESTCTL_LOG_LEVEL", "info")}).Usage()
		return 2
	}
	root := buildRootCmdWith(&Config{LogLvl: envStr("TESTCTL_LOG_LEVEL", "info")})
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}
