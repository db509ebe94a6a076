package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskdash/pkg/models"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	frame, err := EncodeEnvelope(models.KindUploadCSV, map[string]string{"fileContent": "a,b\n1,2\n"})
	require.NoError(t, err)

	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, models.KindUploadCSV, env.Event)
	assert.JSONEq(t, `{"fileContent":"a,b\n1,2\n"}`, string(env.Data))
}

func TestEncodeEnvelopeWithoutPayload(t *testing.T) {
	frame, err := EncodeEnvelope(models.KindProcessEmailData, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"process_email_data"}`, string(frame))
}

func TestDecodeEnvelopeRequiresEvent(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"data":{}}`))
	assert.Error(t, err)
	_, err = DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeMessageAndRender(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"user":"ACM2278","date":"01/02/2010","activity":"http://evil","risk_score":97}`))
	require.NoError(t, err)
	assert.Equal(t, "ACM2278", msg.User())
	assert.Equal(t, "01/02/2010", msg.Date())
	assert.Equal(t, "http://evil", msg.Activity())
	risk, ok := msg.RiskScore()
	require.True(t, ok)
	assert.Equal(t, 97.0, risk)

	rendered := RenderMessage(msg)
	var back map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(rendered), &back))
	assert.Equal(t, "http://evil", back["activity"])
	assert.Contains(t, rendered, "\n  \"activity\"")
}

func TestDecodeMessageAcceptsStringRisk(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"activity":"email blast","risk_score":"96.5"}`))
	require.NoError(t, err)
	risk, ok := msg.RiskScore()
	require.True(t, ok)
	assert.Equal(t, 96.5, risk)
}

func TestDecodeMessageRejectsNonObject(t *testing.T) {
	_, err := DecodeMessage([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestDecodeEmailResultsFromEncodedString(t *testing.T) {
	inner := `[{"email_text":"hi","anomaly_score":0.8,"reconstruction_error":0.31,"similar_emails":[{"rank":1,"email":"hello","similarity_score":0.92}]}]`
	outer, err := json.Marshal(inner)
	require.NoError(t, err)

	results, err := DecodeEmailResults(outer)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hi", results[0].Text)
	assert.Equal(t, 0.8, results[0].AnomalyScore)
	assert.Equal(t, 0.31, results[0].ReconstructionError)
	require.Len(t, results[0].SimilarEmails, 1)
	assert.Equal(t, 1, results[0].SimilarEmails[0].Rank)
	assert.Equal(t, "hello", results[0].SimilarEmails[0].Text)
}

func TestDecodeEmailResultsFromArray(t *testing.T) {
	results, err := DecodeEmailResults([]byte(` [{"email_text":"x","anomaly_score":1.4,"reconstruction_error":0}] `))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.4, results[0].AnomalyScore, "clamping is left to the workflow")
}

func TestDecodeEmailResultsMalformed(t *testing.T) {
	_, err := DecodeEmailResults([]byte(`"not a list"`))
	assert.Error(t, err)
	_, err = DecodeEmailResults([]byte(`{}`))
	assert.Error(t, err)
}

func TestDecodeProducerLogAndStatus(t *testing.T) {
	p, err := DecodeProducerLog([]byte(`{"message":"Sent risk: 1 at 2024-01-01 00:00:00"}`))
	require.NoError(t, err)
	assert.Equal(t, "Sent risk: 1 at 2024-01-01 00:00:00", p.Message)

	s, err := DecodeEmailStatus([]byte(`{"status":"Embedding 3/10"}`))
	require.NoError(t, err)
	assert.Equal(t, "Embedding 3/10", s.Status)
}
