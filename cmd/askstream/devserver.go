package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/chattest"
)

func newDevServerCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve a scripted chat backend for local demos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.DevServer.Addr
			}

			backend := chattest.New(chattest.Options{
				ChatPath:    a.cfg.Client.ChatPath,
				HistoryPath: a.cfg.Client.HistoryPath,
				ChunkDelay:  a.cfg.DevServer.ChunkDelay,
				Logger:      a.logger,
			})

			// No WriteTimeout: streamed answers stay open for their whole duration.
			srv := &http.Server{
				Addr:              addr,
				Handler:           backend.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       2 * time.Minute,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info().Str("addr", addr).Msg("Dev server listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info().Msg("Shutting down dev server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default devserver.addr)")
	return cmd
}
