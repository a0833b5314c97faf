package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"blive-greeting/action"
	"blive-greeting/config"
	"blive-greeting/session"
)

const greetPause = time.Second

func greetCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "greet",
		Short: "Send the greeting to every configured room once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			creds, err := session.LoadCookies(cfg.CookiesFile)
			if err != nil {
				return err
			}
			rooms, err := config.LoadRooms(cfg.RoomsFile)
			if err != nil {
				return err
			}
			return greetAll(ctx, action.NewSender(creds), rooms, greetPause)
		},
	}
}

// greetAll greets each room in order, pausing between rooms so the chat API
// does not throttle us.
func greetAll(ctx context.Context, sender *action.Sender, rooms []uint32, pause time.Duration) error {
	var result *multierror.Error
	for i, roomID := range rooms {
		if i > 0 {
			select {
			case <-ctx.Done():
				return multierror.Append(result, ctx.Err())
			case <-time.After(pause):
			}
		}
		if err := sender.SendGreeting(ctx, roomID); err != nil {
			slog.Error("greeting failed", "room", roomID, "error", err)
			result = multierror.Append(result, fmt.Errorf("room %d: %w", roomID, err))
			continue
		}
		slog.Info("greeting sent", "room", roomID)
	}
	return result.ErrorOrNil()
}
