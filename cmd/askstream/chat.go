package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/askstream/askstream/chat"
	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
	"github.com/ZanzyTHEbar/askstream/askstream/config"
)

const replHelp = `Commands:
  /retry    retry the last failed question
  /clear    start a new conversation
  /id       print the conversation id
  /quit     exit`

func newChatCmd(a *app) *cobra.Command {
	var conversation string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			var opts []chat.Option
			if conversation != "" {
				opts = append(opts, chat.WithConversationID(conversation))
			}
			ctl, release, err := a.controller(ctx, opts...)
			if err != nil {
				return err
			}
			defer release()

			out := cmd.OutOrStdout()
			if conversation != "" {
				if err := ctl.Hydrate(ctx, conversation); err != nil {
					return err
				}
				printTurns(out, ctl.Store().Turns())
			}

			a.watchOverrides(ctl)

			p := newPrinter(out)
			defer p.attach(ctl.Store())()

			return repl(ctx, ctl, cmd.InOrStdin(), out)
		},
	}

	cmd.Flags().StringVar(&conversation, "conversation", "", "continue a stored conversation")
	return cmd
}

// watchOverrides swaps request overrides whenever the config file changes.
func (a *app) watchOverrides(ctl *chat.Controller) {
	err := a.loader.Watch(func(cfg *config.Config, err error) {
		if err != nil {
			a.logger.Warn().Err(err).Msg("Ignoring invalid configuration change")
			return
		}
		ctl.SetOverrides(chat.OverridesFromConfig(cfg.Overrides))
		a.logger.Info().Msg("Request overrides reloaded")
	})
	if err != nil && !errors.Is(err, config.ErrNoConfigFile) {
		a.logger.Warn().Err(err).Msg("Config hot reload disabled")
	}
}

func repl(ctx context.Context, ctl *chat.Controller, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, hintStyle.Render("Type a question, or /help."))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var lastFailed string
	for {
		fmt.Fprint(out, promptStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		var (
			turn model.Turn
			err  error
		)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, replHelp)
			continue
		case "/id":
			fmt.Fprintln(out, ctl.ConversationID())
			continue
		case "/clear":
			if err := ctl.Clear(); err != nil {
				return err
			}
			lastFailed = ""
			fmt.Fprintln(out, hintStyle.Render("New conversation "+ctl.ConversationID()))
			continue
		case "/retry":
			if lastFailed == "" {
				fmt.Fprintln(out, hintStyle.Render("Nothing to retry."))
				continue
			}
			turn, err = ctl.Retry(ctx, lastFailed)
		default:
			turn, err = ctl.Submit(ctx, line)
		}

		switch {
		case err == nil:
		case errors.Is(err, chat.ErrNotRetryable), errors.Is(err, chat.ErrTurnNotFound), errors.Is(err, chat.ErrEmptyQuestion):
			fmt.Fprintln(out, failureStyle.Render(err.Error()))
			continue
		default:
			return err
		}

		if turn.Retryable() {
			lastFailed = turn.ID
		} else if turn.ID == lastFailed {
			lastFailed = ""
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}
