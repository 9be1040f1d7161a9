package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"ticketing/internal/bus"
	"ticketing/internal/messages"
	"ticketing/internal/platform"

	"github.com/spf13/cobra"
)

var (
	envFile string

	ticketID    string
	ticketTitle string
	ticketPrice float64
	ticketUser  string
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "publisher",
		Short:        "Publish ticket events to the ticketing cluster",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
	root.PersistentFlags().StringVar(&ticketID, "id", "", "ticket id")
	root.PersistentFlags().StringVar(&ticketTitle, "title", "", "ticket title")
	root.PersistentFlags().Float64Var(&ticketPrice, "price", 0, "ticket price, greater than zero")
	root.PersistentFlags().StringVar(&ticketUser, "user", "", "owning user id (optional)")

	root.AddCommand(&cobra.Command{
		Use:   "created",
		Short: "Publish a ticket:created event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := messages.NewTicketCreatedEvent(ticketID, ticketTitle, ticketPrice).WithUserID(ticketUser)
			return publish(cmd.Context(), e)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "updated",
		Short: "Publish a ticket:updated event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := messages.NewTicketUpdatedEvent(ticketID, ticketTitle, ticketPrice).WithUserID(ticketUser)
			return publish(cmd.Context(), e)
		},
	})
	return root
}

func publish[E messages.Event](ctx context.Context, e E) error {
	if err := e.Validate(); err != nil {
		return err
	}

	cfg, err := platform.LoadAppConfig(envFile)
	if err != nil {
		return err
	}
	logger := platform.InitLogger(cfg.Log)

	opts := cfg.BusOptions()
	opts.Logger = logger
	return bus.Run(ctx, opts, func(ctx context.Context, conn *bus.Conn) error {
		if err := bus.NewPublisher[E](conn).Publish(ctx, e); err != nil {
			return err
		}
		slog.Info("Event published", "subject", e.Subject(), "event", e)
		return nil
	})
}
