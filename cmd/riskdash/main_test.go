package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskdash/config"
	"riskdash/internal/batchapi"
	"riskdash/pkg/models"
)

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("riskdash: {}\n"), 0o644))

	assert.Equal(t, path, findConfigFile(path))
	assert.Equal(t, "", findConfigFile(filepath.Join(dir, "missing.yml")))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "riskdash.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
riskdash:
  channel:
    mode: websocket
    websocket:
      url: ws://pipeline:5000/events
  engine:
    high_risk_threshold: 90
`), 0o644))

	old := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = old })

	cfg, got, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, config.ChannelWebsocket, cfg.Riskdash.Channel.Mode)
	assert.Equal(t, 90.0, cfg.Riskdash.Engine.HighRiskThreshold)
	assert.Equal(t, 8080, cfg.Riskdash.Dashboard.Port)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riskdash.yml")
	require.NoError(t, os.WriteFile(path, []byte("riskdash:\n  channel:\n    mode: kafka\n"), 0o644))

	old := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = old })

	_, _, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel.mode")
}

func TestNewTransportWebsocketRejectsBadURL(t *testing.T) {
	_, _, err := newTransport(config.ChannelConfig{
		Mode:      config.ChannelWebsocket,
		Websocket: config.WebsocketConfig{URL: "http://pipeline"},
	})
	assert.Error(t, err)
}

func TestNewTracingClosesTraceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.jsonl")
	tp, stop, err := newTracing(true, path)
	require.NoError(t, err)
	assert.True(t, tp.Enabled())

	require.NoError(t, stop(context.Background()))
	// A second stop hits the already closed file.
	assert.ErrorIs(t, stop(context.Background()), os.ErrClosed)
}

func TestNewTracingDisabled(t *testing.T) {
	tp, stop, err := newTracing(false, "")
	require.NoError(t, err)
	assert.False(t, tp.Enabled())
	assert.NoError(t, stop(context.Background()))
}

func TestReplayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	lines := `{"event":"producer_log","data":{"message":"Sent risk: 40 at 2024-01-01 10:00:00"}}
{"event":"producer_log","data":{"message":"Sent risk: 97 at 2024-01-01 10:00:05"}}

not json
{"event":"unknown_kind","data":{}}
{"event":"new_kafka_message","data":{"user":"ACM2278","date":"2010-01-02","activity":"http","risk_score":97}}
`
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	res, err := replayFile(context.Background(), cfg, path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Delivered)
	assert.Equal(t, 2, res.Skipped)

	snap := res.Snapshot
	require.NotNil(t, snap)
	assert.Len(t, snap.ProducerLog, 2)
	assert.Len(t, snap.RiskSeries, 2)
	assert.Len(t, snap.MessageLog, 1)
}

func TestReplayFileRecordsOutboundCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"event":"prediction_done"}`+"\n"), 0o644))

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	for i := 0; i < 20; i++ {
		res, err := replayFile(context.Background(), cfg, path)
		require.NoError(t, err)
		require.Len(t, res.Emitted, 1)
		assert.Equal(t, models.KindProcessEmailData, res.Emitted[0].Kind)
		assert.Equal(t, models.PhaseAwaitingEmailAnalysis, res.Snapshot.Workflow.Phase)
	}
}

func TestReplayFileMissing(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	_, err := replayFile(context.Background(), cfg, filepath.Join(t.TempDir(), "none.jsonl"))
	assert.Error(t, err)
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, batchapi.Report{UserScores: []batchapi.UserScore{
		{User: "ACM2278", Score: 100, Category: "Anomalous", Level: models.RiskHigh},
		{User: "BTR0001", Score: 1, Category: "Normal", Level: models.RiskLow},
	}})
	out := buf.String()
	assert.Contains(t, out, "USER")
	assert.Contains(t, out, "ACM2278")
	assert.Contains(t, out, "Anomalous")
}

func TestPrintUserDates(t *testing.T) {
	var buf bytes.Buffer
	printUserDates(&buf, []batchapi.UserDates{{User: "ACM2278", Dates: []string{"2010-01-02", "2010-01-03"}}})
	assert.Contains(t, buf.String(), "ACM2278")
	assert.Contains(t, buf.String(), "2")
}

func TestRootCommands(t *testing.T) {
	root := newRoot()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "tail", "replay", "batch"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}
