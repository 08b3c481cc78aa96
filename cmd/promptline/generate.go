package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"promptline/internal/generation"
)

// streamPoll is how often generate prints newly buffered output.
const streamPoll = 50 * time.Millisecond

func newGenerateCmd(opts *options) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "generate [text]",
		Short: "Run one generation against the configured chat and stream it to stdout",
		Example: "  promptline generate --character seraphina \"Hello!\"\n" +
			"  promptline generate --mode regenerate --chat first",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			text := ""
			if len(args) == 1 {
				text = args[0]
			}
			m, err := generation.ParseMode(mode, text)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			// SIGINT aborts the generation; what was produced so far is kept.
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sig)
			quit := make(chan struct{})
			defer close(quit)
			go func() {
				select {
				case <-sig:
					a.svc.Abort()
				case <-quit:
				}
			}()

			return runGeneration(cmd.Context(), a.svc, m, text, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "send|regenerate|continue (default send with text, else regenerate)")
	return cmd
}

// runGeneration starts one generation and copies its buffer to out as it grows.
func runGeneration(ctx context.Context, svc *generation.Service, mode generation.Mode, text string, out io.Writer) error {
	id, err := svc.Start(mode, text)
	if err != nil {
		return err
	}
	done := svc.Controller().Done()
	printed := ""
	flush := func() {
		buf := svc.Buffer()
		if buf.GenerationID != id && buf.GenerationID != "" {
			return
		}
		// The stop filter may shorten the buffer; only print what extends it.
		if strings.HasPrefix(buf.Text, printed) {
			fmt.Fprint(out, buf.Text[len(printed):])
			printed = buf.Text
		}
	}
	tick := time.NewTicker(streamPoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			svc.Abort()
			<-done
			flush()
			fmt.Fprintln(out)
			return ctx.Err()
		case <-done:
			flush()
			fmt.Fprintln(out)
			st := svc.Status()
			if st.LastOutcome == string(generation.StateErrored) {
				return fmt.Errorf("generation failed: %s", st.LastError)
			}
			return nil
		case <-tick.C:
			flush()
		}
	}
}

func newContextCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "context",
		Short: "Print the context the next generation would send and its token estimate",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()
			printContext(cmd.OutOrStdout(), a.svc)
			return nil
		},
	}
}

func printContext(out io.Writer, svc *generation.Service) {
	c := svc.Context()
	if c.Mode == "chat" {
		for _, m := range c.Messages {
			fmt.Fprintf(out, "[%s]\n%s\n\n", m.Role, m.Content)
		}
	} else {
		fmt.Fprintln(out, c.Text)
	}
	fmt.Fprintf(out, "-- %s mode, ~%d tokens, %d messages included\n", c.Mode, c.Tokens, c.Included)
}
