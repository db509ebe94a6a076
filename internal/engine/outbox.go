package engine

import (
	"github.com/google/uuid"

	"riskdash/internal/logger"
	"riskdash/internal/workflow"
	"riskdash/pkg/models"
)

// outboundCall is a channel emit carried out off the loop.
type outboundCall struct {
	kind       models.Kind
	generation uint64
	path       string
	id         string
	// flushed marks a flush barrier rather than a call.
	flushed chan struct{}
}

func (s *Session) startUpload(r *run) {
	if s.workflow.State().SelectedFile == "" {
		if _, err := s.workflow.BeginUpload(); err != nil {
			logger.Warnf("engine: upload rejected: %v", err)
		}
		return
	}

	s.resetAll()
	up, err := s.workflow.BeginUpload()
	if err != nil {
		logger.Warnf("engine: upload rejected: %v", err)
		return
	}
	call := outboundCall{
		kind:       models.KindUploadCSV,
		generation: up.Generation,
		path:       up.Path,
		id:         uuid.NewString(),
	}
	logger.Infof("engine: upload %s of %s started", call.id, call.path)
	s.enqueue(r, call)
}

// enqueue hands a call to the outbox without blocking the loop. A full
// outbox fails the call immediately.
func (s *Session) enqueue(r *run, call outboundCall) {
	select {
	case r.outbox <- call:
	default:
		err := errOutboxFull
		logger.Warnf("engine: %s not sent: %v", call.kind, err)
		s.metrics.Outbound(call.kind, err)
		switch call.kind {
		case models.KindUploadCSV:
			s.workflow.UploadFailed(call.generation, err)
		case models.KindProcessEmailData:
			s.workflow.AnalysisRequestFailed(call.generation, err)
		}
	}
}

// drainOutbox performs outbound calls in order and posts their outcome back
// to the loop.
func (s *Session) drainOutbox(r *run) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case call := <-r.outbox:
			if call.flushed != nil {
				_ = s.postTo(r, syncEvent{done: call.flushed})
				continue
			}
			var outcome Event
			switch call.kind {
			case models.KindUploadCSV:
				outcome = s.upload(r, call)
			case models.KindProcessEmailData:
				err := s.channel.Emit(r.ctx, call.kind, nil)
				s.metrics.Outbound(call.kind, err)
				outcome = analysisOutcome{generation: call.generation, err: err}
			default:
				continue
			}
			_ = s.postTo(r, outcome)
		}
	}
}

func (s *Session) upload(r *run, call outboundCall) uploadOutcome {
	data, err := s.readFile(call.path)
	if err != nil {
		return uploadOutcome{generation: call.generation, readErr: err}
	}
	err = s.channel.Emit(r.ctx, call.kind, workflow.UploadPayload{FileContent: string(data)})
	s.metrics.Outbound(call.kind, err)
	if err == nil {
		logger.Infof("engine: upload %s submitted, %d bytes", call.id, len(data))
	}
	return uploadOutcome{generation: call.generation, emitErr: err}
}

func (s *Session) applyUploadOutcome(o uploadOutcome) {
	switch {
	case o.readErr != nil:
		if s.workflow.UploadReadFailed(o.generation, o.readErr) {
			logger.Warnf("engine: reading upload failed: %v", o.readErr)
		}
	case o.emitErr != nil:
		if s.workflow.UploadFailed(o.generation, o.emitErr) {
			logger.Warnf("engine: upload failed: %v", o.emitErr)
		}
	default:
		s.workflow.UploadSubmitted(o.generation)
	}
}
