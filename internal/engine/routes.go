package engine

import (
	"riskdash/internal/extract"
	"riskdash/internal/logger"
	"riskdash/internal/transform/payload"
	"riskdash/pkg/models"
)

type route func(s *Session, r *run, data []byte)

// routes maps every subscribed kind to its handler.
var routes = map[models.Kind]route{
	models.KindProducerLog:    (*Session).onProducerLog,
	models.KindMessageArrived: (*Session).onMessage,
	models.KindPredictionDone: (*Session).onPredictionDone,
	models.KindEmailStatus:    (*Session).onEmailStatus,
	models.KindEmailAnalysis:  (*Session).onEmailAnalysis,
}

func (s *Session) dropped(kind models.Kind, err error) {
	s.metrics.Dropped(kind)
	logger.Warnf("engine: dropping malformed %s payload: %v", kind, err)
}

func (s *Session) onProducerLog(r *run, data []byte) {
	p, err := payload.DecodeProducerLog(data)
	if err != nil {
		s.dropped(models.KindProducerLog, err)
		s.appendLine(r, s.producer, string(data))
		return
	}

	s.appendLine(r, s.producer, p.Message)
	s.workflow.ObserveProducerLog()
	if point, ok := extract.ExtractRisk(p.Message); ok {
		s.risk.Append(point)
		s.metrics.RiskPoint()
	}
}

func (s *Session) onMessage(r *run, data []byte) {
	msg, err := payload.DecodeMessage(data)
	if err != nil {
		s.dropped(models.KindMessageArrived, err)
		s.appendLine(r, s.messages, string(data))
		return
	}

	msg.Tags = s.tagger.Apply(msg)
	idx := s.appendLine(r, s.messages, payload.RenderMessage(msg))
	if len(msg.Tags) > 0 {
		s.ruleHits = append(s.ruleHits, RuleHit{
			Index:    idx,
			User:     msg.User(),
			Activity: msg.Activity(),
			Tags:     msg.Tags,
		})
	}

	if user, date := msg.User(), msg.Date(); user != "" && date != "" {
		s.workflow.UpdateUserContext(user, date)
	}

	activity := msg.Activity()
	risk, ok := msg.RiskScore()
	if !ok {
		return
	}
	if s.classifier.Consider(activity, risk) {
		s.metrics.Flagged(extract.CategoryOf(activity))
	}
}

func (s *Session) onPredictionDone(r *run, _ []byte) {
	if !s.workflow.PredictionDone() {
		logger.Debugf("engine: duplicate prediction_done ignored in phase %s", s.workflow.Phase())
		return
	}
	s.enqueue(r, outboundCall{kind: models.KindProcessEmailData, generation: s.workflow.Generation()})
}

func (s *Session) onEmailStatus(_ *run, data []byte) {
	st, err := payload.DecodeEmailStatus(data)
	if err != nil {
		s.dropped(models.KindEmailStatus, err)
		return
	}
	s.workflow.SetStatus(st.Status)
}

func (s *Session) onEmailAnalysis(_ *run, data []byte) {
	results, err := payload.DecodeEmailResults(data)
	if err != nil {
		s.dropped(models.KindEmailAnalysis, err)
		return
	}
	s.workflow.CompleteAnalysis(results)
	logger.Infof("engine: email analysis complete, %d results", len(results))
}
