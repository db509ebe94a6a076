package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"riskdash/internal/batchapi"
	"riskdash/internal/logger"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Call the pipeline's batch HTTP API",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "upload FILE",
			Short: "Upload a CSV of activity logs",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, done, err := newBatchClient()
				if err != nil {
					return err
				}
				defer done()
				if err := client.UploadBatch(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "users",
			Short: "List users and their available dates",
			RunE: func(cmd *cobra.Command, args []string) error {
				client, done, err := newBatchClient()
				if err != nil {
					return err
				}
				defer done()
				users, err := client.UserDates(cmd.Context())
				if err != nil {
					return err
				}
				printUserDates(cmd.OutOrStdout(), users)
				return nil
			},
		},
		&cobra.Command{
			Use:   "predict",
			Short: "Run a batch prediction and print per-user scores",
			RunE: func(cmd *cobra.Command, args []string) error {
				client, done, err := newBatchClient()
				if err != nil {
					return err
				}
				defer done()
				report, err := client.RequestPrediction(cmd.Context())
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), report)
				return nil
			},
		},
	)
	return cmd
}

func newBatchClient() (*batchapi.Client, func(), error) {
	cfg := setup()
	rd := cfg.Riskdash
	tracing, stopTracing, err := newTracing(rd.Tracing.Enabled, rd.Tracing.File)
	if err != nil {
		logger.Close()
		return nil, nil, fmt.Errorf("set up tracing: %w", err)
	}
	done := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopTracing(ctx); err != nil {
			logger.Errorf("Error flushing traces: %v", err)
		}
		logger.Close()
	}
	client, err := batchapi.New(batchapi.Config{
		URL:       rd.BatchAPI.URL,
		Timeout:   rd.BatchAPI.Timeout,
		Transport: tracing.Transport(nil),
	})
	if err != nil {
		done()
		return nil, nil, err
	}
	return client, done, nil
}

func printUserDates(w io.Writer, users []batchapi.UserDates) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tDATES")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%d\n", u.User, len(u.Dates))
	}
	tw.Flush()
}

func printReport(w io.Writer, report batchapi.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tSCORE\tCATEGORY\tLEVEL")
	for _, s := range report.UserScores {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.User, s.Score, s.Category, s.Level)
	}
	tw.Flush()
}
