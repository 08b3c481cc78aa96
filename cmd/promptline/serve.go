package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"promptline/internal/generation"
	"promptline/internal/httpapi"
	"promptline/internal/logbuf"
	"promptline/internal/registry"
)

// apiService adds the log ring to the generation service for the HTTP layer.
type apiService struct {
	*generation.Service
	ring *logbuf.Ring
}

func (s apiService) Logs() []string { return s.ring.Lines() }

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	var corsOrigins string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("cors-origins") {
				cfg.CORS.Enabled = true
				cfg.CORS.Origins = splitCSV(corsOrigins)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.close()

			httpapi.SetLogger(a.log)
			httpapi.SetBaseContext(ctx)
			httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
			httpapi.SetWaitTimeoutSeconds(cfg.WaitTimeoutSeconds)
			httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)
			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(apiService{Service: a.svc, ring: a.ring}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.log.Info().Str("addr", cfg.Addr).Str("library", a.lib.Dir).Msg("promptline listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				a.svc.Abort()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			if cfg.WatchLibrary {
				g.Go(func() error {
					if err := registry.NewWatcher(a.lib, registry.DefaultDebounce, a.log).Run(gctx, a.applyChange); err != nil {
						a.log.Warn().Err(err).Msg("library watch disabled")
					}
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8080 (defaults PROMPTLINE_ADDR)")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma separated allowed CORS origins; enables CORS")
	return cmd
}
