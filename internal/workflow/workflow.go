// Package workflow drives the upload, predict, email-analysis sequence.
//
// The controller is a pure state machine: it never performs I/O. The owning
// session reads files and calls the channel, then reports the outcome back
// with the generation of the upload it belongs to. Outcomes of an upload
// that has since been superseded are ignored.
package workflow

import (
	"errors"
	"fmt"
	"math"

	"riskdash/pkg/models"
)

// ErrNoFile is returned when an upload is triggered before a file is selected.
var ErrNoFile = errors.New("no file selected")

// UploadPayload is the body of the outbound upload_csv message.
type UploadPayload struct {
	FileContent string `json:"fileContent"`
}

// Upload describes an upload the owner has to carry out.
type Upload struct {
	Generation uint64
	Path       string
}

// Controller holds the workflow state.
type Controller struct {
	state      models.WorkflowState
	generation uint64
}

// New creates an idle controller.
func New() *Controller {
	return &Controller{state: models.WorkflowState{Phase: models.PhaseIdle}}
}

// State returns a copy of the workflow state.
func (c *Controller) State() models.WorkflowState {
	st := c.state
	st.EmailResults = make([]models.EmailResult, len(c.state.EmailResults))
	for i, r := range c.state.EmailResults {
		r.SimilarEmails = append([]models.SimilarEmail(nil), r.SimilarEmails...)
		st.EmailResults[i] = r
	}
	return st
}

// Phase returns the current phase.
func (c *Controller) Phase() models.Phase {
	return c.state.Phase
}

// Generation returns the generation of the latest upload.
func (c *Controller) Generation() uint64 {
	return c.generation
}

// SelectFile records the file the next upload will send.
func (c *Controller) SelectFile(path string) {
	c.state.SelectedFile = path
}

// BeginUpload starts a new upload of the selected file. The caller must have
// reset every other store before calling it.
func (c *Controller) BeginUpload() (Upload, error) {
	if c.state.SelectedFile == "" {
		c.state.Notice = ErrNoFile.Error()
		return Upload{}, ErrNoFile
	}
	c.Reset()
	c.generation++
	c.state.Phase = models.PhaseUploading
	return Upload{Generation: c.generation, Path: c.state.SelectedFile}, nil
}

// UploadReadFailed records a local read failure. The phase stays uploading.
func (c *Controller) UploadReadFailed(generation uint64, err error) bool {
	if generation != c.generation || c.state.Phase != models.PhaseUploading {
		return false
	}
	c.state.Notice = fmt.Sprintf("failed to read %s: %v", c.state.SelectedFile, err)
	return true
}

// UploadSubmitted records that the channel accepted the upload.
func (c *Controller) UploadSubmitted(generation uint64) bool {
	if generation != c.generation || c.state.Phase != models.PhaseUploading {
		return false
	}
	c.state.Phase = models.PhasePredicting
	return true
}

// UploadFailed records a remote failure. The workflow returns to idle so
// the user can retry.
func (c *Controller) UploadFailed(generation uint64, err error) bool {
	if generation != c.generation || c.state.Phase != models.PhaseUploading {
		return false
	}
	c.state.Phase = models.PhaseIdle
	c.state.Notice = fmt.Sprintf("upload failed: %v", err)
	return true
}

// ObserveProducerLog moves an upload to predicting once the producer starts
// talking, even if the submit acknowledgement has not been seen yet.
func (c *Controller) ObserveProducerLog() bool {
	if c.state.Phase != models.PhaseUploading {
		return false
	}
	c.state.Phase = models.PhasePredicting
	return true
}

// PredictionDone handles the prediction_done event. It reports whether the
// follow-on email analysis request must be sent; repeated completions while
// the analysis is pending or finished are ignored.
func (c *Controller) PredictionDone() bool {
	switch c.state.Phase {
	case models.PhaseAwaitingEmailAnalysis, models.PhaseDone:
		return false
	}
	c.state.Phase = models.PhaseAwaitingEmailAnalysis
	c.state.PredictionComplete = true
	return true
}

// AnalysisRequestFailed records a failed email analysis request.
func (c *Controller) AnalysisRequestFailed(generation uint64, err error) bool {
	if generation != c.generation || c.state.Phase != models.PhaseAwaitingEmailAnalysis {
		return false
	}
	c.state.Phase = models.PhaseIdle
	c.state.Notice = fmt.Sprintf("email analysis request failed: %v", err)
	return true
}

// SetStatus updates the processing status text. The phase is unchanged.
func (c *Controller) SetStatus(text string) {
	c.state.StatusText = text
}

// CompleteAnalysis stores the email results and finishes the workflow.
func (c *Controller) CompleteAnalysis(results []models.EmailResult) {
	out := make([]models.EmailResult, len(results))
	for i, r := range results {
		out[i] = Normalize(r)
	}
	c.state.EmailResults = out
	c.state.Phase = models.PhaseDone
}

// UpdateUserContext overwrites the user context. A later message for a
// different user simply wins.
func (c *Controller) UpdateUserContext(user, date string) {
	c.state.UserContext = models.UserContext{User: user, Date: date}
}

// Notify surfaces a message to the user without changing the phase.
func (c *Controller) Notify(msg string) {
	c.state.Notice = msg
}

// Reset returns to idle and drops everything derived from the previous
// upload. The selected file is kept.
func (c *Controller) Reset() {
	c.state = models.WorkflowState{
		Phase:        models.PhaseIdle,
		SelectedFile: c.state.SelectedFile,
	}
}

// Normalize clamps the scores of a result into their valid ranges.
func Normalize(r models.EmailResult) models.EmailResult {
	r.AnomalyScore = clamp01(r.AnomalyScore)
	if math.IsNaN(r.ReconstructionError) || r.ReconstructionError < 0 {
		r.ReconstructionError = 0
	}
	if len(r.SimilarEmails) > 0 {
		sims := make([]models.SimilarEmail, len(r.SimilarEmails))
		for i, s := range r.SimilarEmails {
			s.SimilarityScore = clamp01(s.SimilarityScore)
			sims[i] = s
		}
		r.SimilarEmails = sims
	}
	return r
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
