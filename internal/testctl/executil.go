package testctl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Cmd describes one external command.
type Cmd struct {
	Path   string
	Args   []string
	Env    map[string]string // additional env vars
	Dir    string            // working directory
	Stream bool              // if true, prefix each output line through the logger
}

// RunCmd runs c and waits for it.
func RunCmd(ctx context.Context, c Cmd) error {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	debug("exec %s %v (dir=%q)", c.Path, c.Args, c.Dir)
	if c.Stream {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return err
		}
		if err := cmd.Start(); err != nil {
			return err
		}
		done := make(chan struct{}, 2)
		go func() { stream("OUT", stdout); done <- struct{}{} }()
		go func() { stream("ERR", stderr); done <- struct{}{} }()
		<-done
		<-done
		return cmd.Wait()
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func runCmdVerbose(ctx context.Context, name string, args ...string) error {
	return RunCmd(ctx, Cmd{Path: name, Args: args})
}

func runEnvCmdStreaming(ctx context.Context, env map[string]string, name string, args ...string) error {
	return RunCmd(ctx, Cmd{Path: name, Args: args, Env: env, Stream: true})
}

func stream(prefix string, r io.Reader) int {
	s := bufio.NewScanner(r)
	n := 0
	for s.Scan() {
		logger.Info().Str("stream", prefix).Msg(s.Text())
		n++
	}
	return n
}
