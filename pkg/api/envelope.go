package api

import "time"

// Version is reported in every envelope.
const Version = "1.3.x"

// Envelope statuses.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Envelope is the JSON body of every chronicle response.
type Envelope struct {
	Version  string `json:"version"`
	Datetime string `json:"datetime"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Results  any    `json:"results,omitempty"`
}

// NewErrorEnvelope builds an ERROR envelope carrying message.
func NewErrorEnvelope(message string, now time.Time) Envelope {
	return Envelope{
		Version:  Version,
		Datetime: now.UTC().Format(time.RFC3339),
		Status:   StatusError,
		Message:  message,
	}
}

// NewOKEnvelope builds an OK envelope carrying results.
func NewOKEnvelope(results any, now time.Time) Envelope {
	return Envelope{
		Version:  Version,
		Datetime: now.UTC().Format(time.RFC3339),
		Status:   StatusOK,
		Results:  results,
	}
}
