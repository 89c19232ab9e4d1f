package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/askstream/askstream/chat"
)

var errTurnFailed = errors.New("turn did not succeed")

func newAskCmd(a *app) *cobra.Command {
	var (
		conversation string
		noStream     bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if noStream {
				a.cfg.Client.Stream = false
			}

			var opts []chat.Option
			if conversation != "" {
				opts = append(opts, chat.WithConversationID(conversation))
			}
			ctl, release, err := a.controller(ctx, opts...)
			if err != nil {
				return err
			}
			defer release()

			if conversation != "" {
				if err := ctl.Hydrate(ctx, conversation); err != nil && !errors.Is(err, chat.ErrNoHistory) {
					return err
				}
			}

			p := newPrinter(cmd.OutOrStdout())
			defer p.attach(ctl.Store())()

			turn, err := ctl.Submit(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if !turn.Phase.Settled() || turn.Failure != nil {
				return fmt.Errorf("%w: %s", errTurnFailed, turn.Phase)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&conversation, "conversation", "", "continue a stored conversation")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "ask for a single JSON answer instead of a stream")
	return cmd
}
