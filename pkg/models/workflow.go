package models

// Phase is the stage of the upload, predict, analyze workflow.
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseUploading             Phase = "uploading"
	PhasePredicting            Phase = "predicting"
	PhaseAwaitingEmailAnalysis Phase = "awaiting_email_analysis"
	PhaseDone                  Phase = "done"
)

// UserContext identifies whose activity is being analyzed.
type UserContext struct {
	User string `json:"user"`
	Date string `json:"date"`
}

// SimilarEmail is a nearest neighbour of an analyzed email.
type SimilarEmail struct {
	Rank            int     `json:"rank"`
	Text            string  `json:"email"`
	SimilarityScore float64 `json:"similarity_score"`
}

// EmailResult is one entry of the email anomaly analysis.
type EmailResult struct {
	Text                string         `json:"email_text"`
	AnomalyScore        float64        `json:"anomaly_score"`
	ReconstructionError float64        `json:"reconstruction_error"`
	SimilarEmails       []SimilarEmail `json:"similar_emails"`
}

// WorkflowState is the batch workflow state.
type WorkflowState struct {
	Phase              Phase         `json:"phase"`
	UserContext        UserContext   `json:"user_context"`
	StatusText         string        `json:"status_text"`
	Notice             string        `json:"notice,omitempty"`
	SelectedFile       string        `json:"selected_file,omitempty"`
	PredictionComplete bool          `json:"prediction_complete"`
	EmailResults       []EmailResult `json:"email_results"`
}
