package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"riskdash/config"
	"riskdash/internal/channel/memchan"
	"riskdash/internal/console"
	"riskdash/internal/engine"
	"riskdash/internal/logger"
	"riskdash/internal/metrics"
)

const maxReplayLine = 4 << 20

func newReplayCmd() *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Feed recorded envelopes through a session and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := setup()
			defer logger.Close()

			res, err := replayFile(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			logger.Infof("Replayed %d envelopes (%d skipped, %d outbound)", res.Delivered, res.Skipped, len(res.Emitted))
			fmt.Fprintln(cmd.OutOrStdout(), console.New(console.Options{Width: width}).Render(res.Snapshot))
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", 0, "output width (default: terminal width)")
	return cmd
}

type replayResult struct {
	Delivered int
	Skipped   int
	Emitted   []memchan.Emitted
	Snapshot  *engine.Snapshot
}

// replayFile delivers every JSONL envelope in path to a fresh session bound
// to a recording channel.
func replayFile(ctx context.Context, cfg *config.Config, path string) (*replayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ch := memchan.New()
	session, err := newSession(cfg, ch, metrics.New())
	if err != nil {
		return nil, err
	}
	if err := session.Mount(ctx); err != nil {
		return nil, fmt.Errorf("mount session: %w", err)
	}
	defer session.Unmount()

	res := &replayResult{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		ok, err := ch.DeliverEnvelope(line)
		if err != nil {
			logger.Warnf("replay line %d: %v", lineNo, err)
			res.Skipped++
			continue
		}
		if !ok {
			res.Skipped++
			continue
		}
		res.Delivered++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := session.Flush(syncCtx); err != nil {
		return nil, fmt.Errorf("flush session: %w", err)
	}
	res.Emitted = ch.Emitted()
	res.Snapshot = session.Snapshot()
	return res, nil
}
