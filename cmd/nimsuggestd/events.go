package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	nsnats "github.com/nimlime/nimsuggestd/internal/adapter/nats"
	"github.com/nimlime/nimsuggestd/internal/config"
	"github.com/nimlime/nimsuggestd/internal/logger"
	"github.com/nimlime/nimsuggestd/internal/port/messagequeue"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow session events published on NATS",
	Long: `Print session state and query completion events as they are published
by running daemons. Requires events.nats_url.`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

func runEvents(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Events.NATSURL == "" {
		return errors.New("events.nats_url is not configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := nsnats.Connect(ctx, cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = q.Close() }()

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	cancel, err := q.Subscribe(ctx, messagequeue.Subject(cfg.Events.SubjectPrefix, ">"), func(ctx context.Context, subject string, data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if id := logger.QueryID(ctx); id != "" {
			_, err := fmt.Fprintf(out, "%s [%s] %s\n", subject, id, data)
			return err
		}
		_, err := fmt.Fprintf(out, "%s %s\n", subject, data)
		return err
	})
	if err != nil {
		return err
	}
	defer cancel()

	<-ctx.Done()
	return nil
}
