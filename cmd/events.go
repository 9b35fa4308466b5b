/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/secure-ingress-home/apiserver/config"
	"github.com/secure-ingress-home/apiserver/internal/logging"
	"github.com/secure-ingress-home/apiserver/internal/mq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// eventsCmd represents the events command.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect authorization lifecycle events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Log authorization events from the configured broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		if cfg.Events.Backend == "" {
			return errors.New("EVENTS_BACKEND is not set")
		}

		logger, err := logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bus, err := mq.Open(ctx, cfg.Events)
		if err != nil {
			return err
		}
		defer func() { _ = bus.Close() }()

		logger.Info("tailing authorization events", zap.String("backend", cfg.Events.Backend))
		err = bus.SubscribeAuthorizations(ctx, func(_ context.Context, event mq.AuthorizationEvent) error {
			logger.Info("authorization event",
				zap.String("event", event.Event),
				zap.String("event_id", event.ID),
				zap.Time("occurred_at", event.OccurredAt),
				zap.Stringer("id", event.Authorization.ID),
				zap.Int64("number", event.Authorization.Number),
				zap.String("type", string(event.Authorization.Type)),
			)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
