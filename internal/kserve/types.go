// Package kserve discovers OpenAI-compatible endpoints of models served in
// the cluster through KServe InferenceServices.
package kserve

import (
	"errors"
	"time"
)

// DefaultReadyTimeout bounds how long Resolve waits for a service to become ready.
const DefaultReadyTimeout = 10 * time.Minute

// ErrNotReady is returned when an InferenceService exists but is not serving.
var ErrNotReady = errors.New("InferenceService is not ready")

// Endpoint is the observed state of a served model.
type Endpoint struct {
	Name       string `json:"name"`
	Ready      bool   `json:"ready"`
	URL        string `json:"url,omitempty"`
	Runtime    string `json:"runtime,omitempty"`
	StorageURI string `json:"storage_uri,omitempty"`
	GPUs       int64  `json:"gpus,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	Message    string `json:"message,omitempty"`
}
