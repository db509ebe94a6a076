package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskdash/internal/channel/memchan"
	"riskdash/internal/metrics"
	"riskdash/pkg/models"
)

var epoch = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	session *Session
	channel *memchan.Channel
	clock   *ManualClock
	files   map[string]string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		channel: memchan.New(),
		clock:   NewManualClock(epoch),
		files:   map[string]string{"logs.csv": "user,date\nACM2278,2010-01-02\n"},
	}
	readFile := func(path string) ([]byte, error) {
		body, ok := f.files[path]
		if !ok {
			return nil, errors.New("no such file")
		}
		return []byte(body), nil
	}
	opts = append([]Option{WithClock(f.clock), WithReadFile(readFile)}, opts...)
	f.session = New(Config{}, f.channel, opts...)
	require.NoError(t, f.session.Mount(context.Background()))
	t.Cleanup(func() { _ = f.session.Unmount() })
	return f
}

func (f *fixture) deliver(t *testing.T, kind models.Kind, data string) {
	t.Helper()
	require.True(t, f.channel.Deliver(kind, []byte(data)), "no handler for %s", kind)
}

func (f *fixture) sync(t *testing.T) *Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.session.Sync(ctx))
	return f.session.Snapshot()
}

// current syncs without failing the test, for use inside polling conditions.
func (f *fixture) current() *Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = f.session.Sync(ctx)
	return f.session.Snapshot()
}

func (f *fixture) upload(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, f.session.SelectFile(path))
	require.NoError(t, f.session.TriggerUpload())
	f.sync(t)
}

func (f *fixture) waitEmits(t *testing.T, kind models.Kind, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.channel.EmitCount(kind) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMountSubscribesEveryKindOnce(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, len(models.InboundKinds), f.channel.SubscriptionCount())
	for _, kind := range models.InboundKinds {
		assert.True(t, f.channel.Subscribed(kind), kind)
	}

	require.NoError(t, f.session.Mount(context.Background()))
	assert.Equal(t, len(models.InboundKinds), f.channel.SubscriptionCount())

	require.NoError(t, f.session.Unmount())
	require.NoError(t, f.session.Unmount())
	assert.Equal(t, 0, f.channel.SubscriptionCount())
	assert.False(t, f.session.Snapshot().Mounted)
	assert.ErrorIs(t, f.session.SetZoomLevel(models.ZoomHigh), ErrNotMounted)

	require.NoError(t, f.session.Mount(context.Background()))
	assert.Equal(t, len(models.InboundKinds), f.channel.SubscriptionCount())
	f.deliver(t, models.KindProducerLog, `{"message":"hello"}`)
	snap := f.sync(t)
	assert.True(t, snap.Mounted)
	require.Len(t, snap.ProducerLog, 1)
}

func TestRemountStartsEmpty(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, models.KindProducerLog, `{"message":"Sent risk: 80 at 2024-01-01 10:00:00"}`)
	f.sync(t)

	require.NoError(t, f.session.Unmount())
	require.NoError(t, f.session.Mount(context.Background()))
	snap := f.sync(t)
	assert.Empty(t, snap.ProducerLog)
	assert.Empty(t, snap.RiskSeries)
}

func TestEndToEndPredictionFlow(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "logs.csv")
	f.waitEmits(t, models.KindUploadCSV, 1)
	assert.JSONEq(t,
		`{"event":"upload_csv","data":{"fileContent":"user,date\nACM2278,2010-01-02\n"}}`,
		string(f.channel.Emitted()[0].Envelope))

	f.deliver(t, models.KindProducerLog, `{"message":"Sent risk: 42.5 at 2024-01-01 10:00:00"}`)
	f.deliver(t, models.KindProducerLog, `{"message":"Sent risk: 96 at 2024-01-01 10:00:05"}`)
	f.deliver(t, models.KindMessageArrived,
		`{"user":"ACM2278","date":"2010-01-02","activity":"http://wikileaks.org","risk_score":99}`)
	f.deliver(t, models.KindPredictionDone, ``)
	f.deliver(t, models.KindPredictionDone, ``)

	snap := f.sync(t)
	require.Len(t, snap.RiskSeries, 2)
	assert.Equal(t, 42.5, snap.RiskSeries[0].Score)
	assert.Equal(t, "10:00:05", snap.RiskSeries[1].FormattedTime)
	assert.Equal(t, models.RiskLow, snap.ProducerLog[0].RiskLevel)
	assert.Equal(t, models.RiskHigh, snap.ProducerLog[1].RiskLevel)
	assert.Equal(t, 1, snap.CategoryCounts[models.CategoryHTTP])
	assert.Equal(t, models.PhaseAwaitingEmailAnalysis, snap.Workflow.Phase)
	assert.True(t, snap.Workflow.PredictionComplete)
	assert.Equal(t, models.UserContext{User: "ACM2278", Date: "2010-01-02"}, snap.Workflow.UserContext)

	f.waitEmits(t, models.KindProcessEmailData, 1)
	f.sync(t)
	assert.Equal(t, 1, f.channel.EmitCount(models.KindProcessEmailData))

	f.deliver(t, models.KindEmailStatus, `{"status":"Embedding emails"}`)
	f.deliver(t, models.KindEmailAnalysis,
		`"[{\"email_text\":\"send me the files\",\"anomaly_score\":0.82,\"reconstruction_error\":0.5,\"similar_emails\":[{\"rank\":1,\"email\":\"files attached\",\"similarity_score\":0.91}]}]"`)
	snap = f.sync(t)
	assert.Equal(t, models.PhaseDone, snap.Workflow.Phase)
	assert.Equal(t, "Embedding emails", snap.Workflow.StatusText)
	require.Len(t, snap.Emails, 1)
	assert.Equal(t, 82, snap.Emails[0].AnomalyPercent)
	assert.Equal(t, "high", string(snap.Emails[0].AnomalyBand))

	f.deliver(t, models.KindPredictionDone, ``)
	f.sync(t)
	assert.Equal(t, 1, f.channel.EmitCount(models.KindProcessEmailData))
}

func TestUploadResetsEverything(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, models.KindProducerLog, `{"message":"Sent risk: 91 at 2024-01-01 10:00:00"}`)
	f.deliver(t, models.KindMessageArrived, `{"user":"u","date":"d","activity":"email to x","risk_score":97}`)
	require.NoError(t, f.session.SetZoomLevel(models.ZoomHigh))
	require.NoError(t, f.session.SelectCategory(models.CategoryEmail))
	f.deliver(t, models.KindEmailStatus, `{"status":"working"}`)

	snap := f.sync(t)
	require.Len(t, snap.ProducerLog, 1)
	require.Len(t, snap.SelectedEntries, 1)
	assert.Equal(t, models.ZoomHigh, snap.Viewport.ZoomLevel)

	f.upload(t, "logs.csv")
	snap = f.session.Snapshot()
	assert.Empty(t, snap.ProducerLog)
	assert.Empty(t, snap.MessageLog)
	assert.Empty(t, snap.RiskSeries)
	assert.Empty(t, snap.CategoryCounts)
	assert.Empty(t, snap.SelectedEntries)
	assert.Equal(t, models.CategoryNone, snap.SelectedCategory)
	assert.Equal(t, models.ZoomAll, snap.Viewport.ZoomLevel)
	assert.True(t, snap.Viewport.Domain.Auto)
	assert.Empty(t, snap.Workflow.UserContext.User)
	assert.Empty(t, snap.Workflow.StatusText)
	assert.Equal(t, "logs.csv", snap.Workflow.SelectedFile)
	assert.Equal(t, 0, f.clock.Pending())
}

func TestRecencyClearSurvivesReset(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, models.KindProducerLog, `{"message":"first"}`)
	snap := f.sync(t)
	require.True(t, snap.ProducerLog[0].Recent)

	f.clock.Advance(time.Second)
	f.upload(t, "logs.csv")
	f.deliver(t, models.KindProducerLog, `{"message":"second"}`)
	snap = f.sync(t)
	require.Len(t, snap.ProducerLog, 1)
	assert.Equal(t, "second", snap.ProducerLog[0].Text)
	assert.True(t, snap.ProducerLog[0].Recent)

	// Past the deadline of the line that existed before the reset.
	f.clock.Advance(1500 * time.Millisecond)
	snap = f.sync(t)
	assert.True(t, snap.ProducerLog[0].Recent)

	f.clock.Advance(600 * time.Millisecond)
	snap = f.sync(t)
	assert.False(t, snap.ProducerLog[0].Recent)
}

// gateTagger holds the loop inside the first Apply until released.
type gateTagger struct {
	entered chan struct{}
	release chan struct{}
	passed  bool
}

func (g *gateTagger) Apply(*models.Message) []models.RuleTag {
	if !g.passed {
		g.passed = true
		g.entered <- struct{}{}
		<-g.release
	}
	return nil
}

func TestQueuedClearAfterResetKeepsNewMark(t *testing.T) {
	gate := &gateTagger{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, WithTagger(gate))
	f.deliver(t, models.KindProducerLog, `{"message":"first"}`)
	f.sync(t)

	// Hold the loop so the reset, the new line and the expired clear of
	// "first" are queued behind each other.
	f.deliver(t, models.KindMessageArrived, `{"activity":"http"}`)
	<-gate.entered
	require.NoError(t, f.session.SelectFile("logs.csv"))
	require.NoError(t, f.session.TriggerUpload())
	f.deliver(t, models.KindProducerLog, `{"message":"second"}`)
	f.clock.Advance(DefaultRecencyTTL)
	close(gate.release)

	snap := f.sync(t)
	require.Len(t, snap.ProducerLog, 1)
	assert.Equal(t, 0, snap.ProducerLog[0].Index)
	assert.Equal(t, "second", snap.ProducerLog[0].Text)
	assert.True(t, snap.ProducerLog[0].Recent)

	f.clock.Advance(DefaultRecencyTTL)
	snap = f.sync(t)
	assert.False(t, snap.ProducerLog[0].Recent)
}

func TestFlushWaitsForOutboundCalls(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.SelectFile("logs.csv"))
	require.NoError(t, f.session.TriggerUpload())
	f.deliver(t, models.KindPredictionDone, ``)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.session.Flush(ctx))
	assert.Equal(t, 1, f.channel.EmitCount(models.KindUploadCSV))
	assert.Equal(t, 1, f.channel.EmitCount(models.KindProcessEmailData))

	require.NoError(t, f.session.Unmount())
	assert.ErrorIs(t, f.session.Flush(ctx), ErrNotMounted)
}

func TestRecencyMarksExpireIndependently(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, models.KindMessageArrived, `{"activity":"a"}`)
	f.sync(t)
	f.clock.Advance(time.Second)
	f.deliver(t, models.KindMessageArrived, `{"activity":"b"}`)
	f.sync(t)

	f.clock.Advance(time.Second)
	snap := f.sync(t)
	assert.False(t, snap.MessageLog[0].Recent)
	assert.True(t, snap.MessageLog[1].Recent)

	f.clock.Advance(time.Second)
	snap = f.sync(t)
	assert.False(t, snap.MessageLog[1].Recent)
	assert.Equal(t, 0, f.clock.Pending())
}

func TestMalformedPayloadsAreDropped(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, WithMetrics(m))
	f.deliver(t, models.KindProducerLog, `not json`)
	f.deliver(t, models.KindMessageArrived, `[1,2`)
	f.deliver(t, models.KindEmailAnalysis, `{"oops":true}`)

	snap := f.sync(t)
	require.Len(t, snap.ProducerLog, 1)
	assert.Equal(t, "not json", snap.ProducerLog[0].Text)
	require.Len(t, snap.MessageLog, 1)
	assert.Empty(t, snap.RiskSeries)
	assert.Equal(t, models.PhaseIdle, snap.Workflow.Phase)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `riskdash_dropped_payloads_total{kind="producer_log"} 1`)
	assert.Contains(t, string(body), `riskdash_dropped_payloads_total{kind="email_analysis"} 1`)
}

func TestNonRiskLinesAreLoggedOnly(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, models.KindProducerLog, `{"message":"Producer connected"}`)
	snap := f.sync(t)
	require.Len(t, snap.ProducerLog, 1)
	assert.Equal(t, models.RiskNone, snap.ProducerLog[0].RiskLevel)
	assert.Empty(t, snap.RiskSeries)
}

func TestUserContextNeedsUserAndDate(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, models.KindMessageArrived, `{"user":"alice"}`)
	snap := f.sync(t)
	assert.Empty(t, snap.Workflow.UserContext.User)

	f.deliver(t, models.KindMessageArrived, `{"user":"alice","date":"2010-01-02"}`)
	f.deliver(t, models.KindMessageArrived, `{"user":"bob","date":"2010-01-03"}`)
	snap = f.sync(t)
	assert.Equal(t, "bob", snap.Workflow.UserContext.User)
}

func TestUploadWithoutFile(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, models.KindProducerLog, `{"message":"kept"}`)
	require.NoError(t, f.session.TriggerUpload())
	snap := f.sync(t)
	assert.Equal(t, models.PhaseIdle, snap.Workflow.Phase)
	assert.NotEmpty(t, snap.Workflow.Notice)
	assert.Len(t, snap.ProducerLog, 1)
	assert.Equal(t, 0, f.channel.EmitCount(models.KindUploadCSV))
}

func TestUploadReadFailureStaysUploading(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "missing.csv")
	require.Eventually(t, func() bool {
		return f.current().Workflow.Notice != ""
	}, 2*time.Second, 5*time.Millisecond)

	snap := f.session.Snapshot()
	assert.Equal(t, models.PhaseUploading, snap.Workflow.Phase)
	assert.Contains(t, snap.Workflow.Notice, "no such file")
	assert.Equal(t, 0, f.channel.EmitCount(models.KindUploadCSV))
}

func TestUploadEmitFailureReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	f.channel.FailEmits(func(models.Kind) error { return errors.New("socket closed") })
	f.upload(t, "logs.csv")
	require.Eventually(t, func() bool {
		return f.current().Workflow.Phase == models.PhaseIdle
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, f.session.Snapshot().Workflow.Notice, "socket closed")
}

func TestSubmitAcknowledgementMovesToPredicting(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "logs.csv")
	require.Eventually(t, func() bool {
		return f.current().Workflow.Phase == models.PhasePredicting
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAnalysisRequestFailure(t *testing.T) {
	f := newFixture(t)
	f.channel.FailEmits(func(kind models.Kind) error {
		if kind == models.KindProcessEmailData {
			return errors.New("server gone")
		}
		return nil
	})
	f.deliver(t, models.KindPredictionDone, ``)
	require.Eventually(t, func() bool {
		return f.current().Workflow.Phase == models.PhaseIdle
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, f.session.Snapshot().Workflow.Notice, "server gone")
}

func TestViewportIntents(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.SetZoomLevel(models.ZoomMedium))
	snap := f.sync(t)
	assert.Equal(t, models.Domain{Min: 25, Max: 100}, snap.Viewport.Domain)

	start, end := 3, 7
	require.NoError(t, f.session.OnBrushChange(models.BrushRange{StartIndex: &start, EndIndex: &end}))
	snap = f.sync(t)
	assert.Equal(t, models.ZoomMedium, snap.Viewport.ZoomLevel)

	end = 3
	require.NoError(t, f.session.OnBrushChange(models.BrushRange{StartIndex: &start, EndIndex: &end}))
	snap = f.sync(t)
	assert.Equal(t, models.ZoomAll, snap.Viewport.ZoomLevel)
}

func TestCategorySelection(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, models.KindMessageArrived, `{"activity":"http://a","risk_score":"98.5"}`)
	f.deliver(t, models.KindMessageArrived, `{"activity":"http://b","risk_score":95}`)
	f.deliver(t, models.KindMessageArrived, `{"activity":"email c","risk_score":99}`)
	require.NoError(t, f.session.SelectCategory(models.CategoryHTTP))
	snap := f.sync(t)

	assert.Equal(t, []models.Category{models.CategoryHTTP, models.CategoryEmail}, snap.Categories)
	assert.Equal(t, 2, snap.FlaggedTotal)
	require.Len(t, snap.SelectedEntries, 1)
	assert.Equal(t, models.ActivityRecord{Activity: "http://a", Risk: 98.5}, snap.SelectedEntries[0])

	require.NoError(t, f.session.SelectCategory(models.CategoryNone))
	assert.Empty(t, f.sync(t).SelectedEntries)
}

type fixedTagger struct{}

func (fixedTagger) Apply(msg *models.Message) []models.RuleTag {
	if msg.Field("activity") == "usb" {
		return []models.RuleTag{{ID: "usb-1", Name: "Removable media"}}
	}
	return nil
}

func TestRuleHits(t *testing.T) {
	f := newFixture(t, WithTagger(fixedTagger{}))
	f.deliver(t, models.KindMessageArrived, `{"user":"u1","activity":"logon"}`)
	f.deliver(t, models.KindMessageArrived, `{"user":"u2","activity":"usb"}`)
	snap := f.sync(t)

	require.Len(t, snap.RuleHits, 1)
	assert.Equal(t, 1, snap.RuleHits[0].Index)
	assert.Equal(t, "u2", snap.RuleHits[0].User)
	require.Len(t, snap.RuleHits[0].Tags, 1)
	assert.Equal(t, "usb-1", snap.RuleHits[0].Tags[0].ID)
}

func TestUpdatesAreBroadcast(t *testing.T) {
	f := newFixture(t)
	ch := f.session.Updates().Subscribe()
	defer f.session.Updates().Unsubscribe(ch)

	before := f.session.Snapshot().Version
	f.deliver(t, models.KindProducerLog, `{"message":"x"}`)
	select {
	case v := <-ch:
		assert.Greater(t, v, before)
	case <-time.After(2 * time.Second):
		t.Fatal("no update published")
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, models.KindProducerLog, `{"message":"a"}`)
	first := f.sync(t)
	f.deliver(t, models.KindProducerLog, `{"message":"b"}`)
	second := f.sync(t)

	assert.Len(t, first.ProducerLog, 1)
	assert.Len(t, second.ProducerLog, 2)
	assert.Greater(t, second.Version, first.Version)
}
