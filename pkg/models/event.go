package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind names an event on the push channel.
type Kind string

// Inbound event kinds delivered by the detection pipeline.
const (
	KindProducerLog    Kind = "producer_log"
	KindMessageArrived Kind = "new_kafka_message"
	KindPredictionDone Kind = "prediction_done"
	KindEmailStatus    Kind = "email_processing_update"
	KindEmailAnalysis  Kind = "email_analysis"
)

// Outbound event kinds emitted by the dashboard.
const (
	KindUploadCSV        Kind = "upload_csv"
	KindProcessEmailData Kind = "process_email_data"
)

// InboundKinds lists every kind a session subscribes to, in routing order.
var InboundKinds = []Kind{
	KindProducerLog,
	KindMessageArrived,
	KindPredictionDone,
	KindEmailStatus,
	KindEmailAnalysis,
}

// Envelope is the wire shape shared by all push-channel transports.
type Envelope struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is a decoded new_kafka_message payload.
type Message struct {
	Fields map[string]interface{} `json:"fields"`
	Tags   []RuleTag              `json:"tags,omitempty"`
}

// Field returns a field value rendered as a string.
func (m *Message) Field(name string) string {
	if m == nil || m.Fields == nil {
		return ""
	}
	v, ok := m.Fields[name]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Number returns a numeric field. Numeric strings are accepted the same way
// the pipeline's producers sometimes send them.
func (m *Message) Number(name string) (float64, bool) {
	if m == nil || m.Fields == nil {
		return 0, false
	}
	switch val := m.Fields[name].(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// User returns the user field.
func (m *Message) User() string {
	return m.Field("user")
}

// Date returns the date field.
func (m *Message) Date() string {
	return m.Field("date")
}

// Activity returns the activity field.
func (m *Message) Activity() string {
	return m.Field("activity")
}

// RiskScore returns the risk_score field.
func (m *Message) RiskScore() (float64, bool) {
	return m.Number("risk_score")
}
