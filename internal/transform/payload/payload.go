// Package payload decodes push-channel event payloads into models.
package payload

import (
	"bytes"
	"fmt"

	"github.com/bytedance/sonic"

	"riskdash/internal/logger"
	"riskdash/pkg/models"
)

// ProducerLog is the producer_log payload.
type ProducerLog struct {
	Message string `json:"message"`
}

// EmailStatus is the email_processing_update payload.
type EmailStatus struct {
	Status string `json:"status"`
}

// DecodeEnvelope parses a transport frame of the form {"event": ..., "data": ...}.
func DecodeEnvelope(data []byte) (models.Envelope, error) {
	var env models.Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return models.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return models.Envelope{}, fmt.Errorf("decode envelope: missing event name")
	}
	return env, nil
}

// EncodeEnvelope builds a transport frame. A nil payload omits data.
func EncodeEnvelope(kind models.Kind, payload interface{}) ([]byte, error) {
	env := models.Envelope{Event: kind}
	if payload != nil {
		raw, err := sonic.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		env.Data = raw
	}
	out, err := sonic.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return out, nil
}

// DecodeProducerLog parses a producer_log payload.
func DecodeProducerLog(data []byte) (ProducerLog, error) {
	var p ProducerLog
	if err := sonic.Unmarshal(data, &p); err != nil {
		return ProducerLog{}, fmt.Errorf("decode producer_log: %w", err)
	}
	return p, nil
}

// DecodeEmailStatus parses an email_processing_update payload.
func DecodeEmailStatus(data []byte) (EmailStatus, error) {
	var s EmailStatus
	if err := sonic.Unmarshal(data, &s); err != nil {
		return EmailStatus{}, fmt.Errorf("decode email_processing_update: %w", err)
	}
	return s, nil
}

// DecodeMessage parses a new_kafka_message payload. Any JSON object is
// accepted; missing fields simply read as empty.
func DecodeMessage(data []byte) (*models.Message, error) {
	var fields map[string]interface{}
	if err := sonic.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode new_kafka_message: %w", err)
	}
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if len(fields) == 0 {
		logger.Debugf("Empty new_kafka_message payload")
	}
	return &models.Message{Fields: fields}, nil
}

// RenderMessage renders message fields as indented JSON for the raw message
// log. Keys are sorted so identical messages render identically.
func RenderMessage(msg *models.Message) string {
	if msg == nil {
		return "{}"
	}
	out, err := sonic.ConfigStd.MarshalIndent(msg.Fields, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", msg.Fields)
	}
	return string(out)
}

// DecodeEmailResults parses an email_analysis payload. The pipeline sends
// the result list JSON-encoded inside a string; a bare array is accepted too.
func DecodeEmailResults(data []byte) ([]models.EmailResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var inner string
		if err := sonic.Unmarshal(trimmed, &inner); err != nil {
			return nil, fmt.Errorf("decode email_analysis string: %w", err)
		}
		trimmed = []byte(inner)
	}
	var results []models.EmailResult
	if err := sonic.Unmarshal(trimmed, &results); err != nil {
		return nil, fmt.Errorf("decode email_analysis list: %w", err)
	}
	return results, nil
}
