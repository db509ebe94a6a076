package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"riskdash/internal/console"
	"riskdash/internal/engine"
	"riskdash/internal/logger"
	"riskdash/internal/metrics"
)

func newTailCmd() *cobra.Command {
	var lines int
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Run a session and print its state in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := setup()
			defer logger.Close()

			ch, closeCh, err := newTransport(cfg.Riskdash.Channel)
			if err != nil {
				return fmt.Errorf("create channel: %w", err)
			}
			defer closeCh()

			session, err := newSession(cfg, ch, metrics.New())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := session.Mount(ctx); err != nil {
				return fmt.Errorf("mount session: %w", err)
			}
			defer session.Unmount()

			go func() {
				if err := ch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Errorf("Channel error: %v", err)
				}
			}()

			r := console.New(console.Options{Lines: lines})
			return follow(ctx, session, r, os.Stdout, interval)
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 0, "log lines shown per section")
	cmd.Flags().DurationVar(&interval, "interval", 250*time.Millisecond, "minimum time between redraws")
	return cmd
}

// follow redraws the session view on every published change, at most once
// per interval, until ctx is done.
func follow(ctx context.Context, session *engine.Session, r *console.Renderer, w io.Writer, interval time.Duration) error {
	updates := session.Updates().Subscribe()
	defer session.Updates().Unsubscribe(updates)

	draw := func() {
		fmt.Fprint(w, "\033[H\033[2J")
		fmt.Fprintln(w, r.Render(session.Snapshot()))
	}
	draw()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-updates:
			if !ok {
				return nil
			}
			if wait := interval - time.Since(last); wait > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			}
			draw()
			last = time.Now()
		}
	}
}
