package engine

import (
	"riskdash/internal/applog"
	"riskdash/pkg/models"
)

// Event is anything the session loop processes. Transports, timers, intents
// and outbound results all reach the state through events.
type Event interface {
	event()
}

type inboundEvent struct {
	kind models.Kind
	data []byte
}

type clearMarkEvent struct {
	store *applog.Store
	mark  applog.Mark
	timer uint64
}

type selectFileEvent struct{ path string }

type triggerUploadEvent struct{}

type zoomEvent struct{ level models.ZoomLevel }

type brushEvent struct{ r models.BrushRange }

type categoryEvent struct{ category models.Category }

type uploadOutcome struct {
	generation uint64
	readErr    error
	emitErr    error
}

type analysisOutcome struct {
	generation uint64
	err        error
}

type syncEvent struct{ done chan struct{} }

func (inboundEvent) event()       {}
func (clearMarkEvent) event()     {}
func (selectFileEvent) event()    {}
func (triggerUploadEvent) event() {}
func (zoomEvent) event()          {}
func (brushEvent) event()         {}
func (categoryEvent) event()      {}
func (uploadOutcome) event()      {}
func (analysisOutcome) event()    {}
func (syncEvent) event()          {}
