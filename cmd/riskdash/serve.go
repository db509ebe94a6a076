package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"riskdash/internal/dashboard"
	"riskdash/internal/engine"
	"riskdash/internal/logger"
	"riskdash/internal/metrics"
	"riskdash/internal/output/envelopejson"
	"riskdash/internal/telemetry"
	"riskdash/internal/watch"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a session behind the dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg := setup()
	defer logger.Close()
	rd := cfg.Riskdash

	logger.Infof("riskdash starting")

	tracing, stopTracing, err := newTracing(rd.Tracing.Enabled, rd.Tracing.File)
	if err != nil {
		logger.Errorf("Failed to set up tracing: %v", err)
		log.Fatalf("Failed to set up tracing: %v", err)
	}

	ch, closeCh, err := newTransport(rd.Channel)
	if err != nil {
		logger.Errorf("Failed to create %s channel: %v", rd.Channel.Mode, err)
		log.Fatalf("Failed to create %s channel: %v", rd.Channel.Mode, err)
	}

	var sessionCh engine.Channel = ch
	if rd.Record.File != "" {
		rec, err := envelopejson.NewWriter(rd.Record.File)
		if err != nil {
			logger.Errorf("Failed to open recorder: %v", err)
			log.Fatalf("Failed to open recorder: %v", err)
		}
		defer rec.Close()
		sessionCh = envelopejson.Tap(ch, rec)
	}

	m := metrics.New()
	session, err := newSession(cfg, sessionCh, m)
	if err != nil {
		logger.Errorf("Failed to create session: %v", err)
		log.Fatalf("Failed to create session: %v", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Mount(ctx); err != nil {
		logger.Errorf("Failed to mount session: %v", err)
		log.Fatalf("Failed to mount session: %v", err)
	}

	go func() {
		if err := ch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Channel error: %v", err)
		}
	}()

	if rd.Watch.Dir != "" {
		w, err := watch.New(rd.Watch.Dir, 0)
		if err != nil {
			logger.Errorf("Failed to watch %s: %v", rd.Watch.Dir, err)
			log.Fatalf("Failed to watch %s: %v", rd.Watch.Dir, err)
		}
		defer w.Close()
		go func() {
			if err := w.Run(ctx, session); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("Watcher error: %v", err)
			}
		}()
	}

	srvCfg := dashboard.Config{Tracing: tracing}
	if rd.Dashboard.Metrics {
		srvCfg.Metrics = m.Handler()
	}
	httpSrv := &http.Server{
		Addr:              rd.Dashboard.Addr(),
		Handler:           dashboard.NewServer(session, srvCfg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Dashboard API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Dashboard API error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error stopping dashboard API: %v", err)
	}
	if err := session.Unmount(); err != nil {
		logger.Errorf("Error unmounting session: %v", err)
	}
	if err := closeCh(); err != nil {
		logger.Errorf("Error closing channel: %v", err)
	}
	if err := stopTracing(shutdownCtx); err != nil {
		logger.Errorf("Error flushing traces: %v", err)
	}

	logger.Infof("riskdash stopped")
	return nil
}

// newTracing exports spans to path, or stdout when path is empty. The
// returned stop flushes pending spans and then closes the trace file.
func newTracing(enabled bool, path string) (*telemetry.Provider, func(context.Context) error, error) {
	if !enabled {
		tp, err := telemetry.Setup(false, nil)
		if err != nil {
			return nil, nil, err
		}
		return tp, tp.Shutdown, nil
	}
	if path == "" {
		tp, err := telemetry.Setup(true, os.Stdout)
		if err != nil {
			return nil, nil, err
		}
		return tp, tp.Shutdown, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	tp, err := telemetry.Setup(true, f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	stop := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), f.Close())
	}
	return tp, stop, nil
}
