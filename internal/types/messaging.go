package types

import "time"

// ProductReadyMessage is the SQS payload announcing a new output GeoTIFF.
// JSON tags use snake_case to match the downstream ingestion workers.
type ProductReadyMessage struct {
	RunID string `json:"run_id"`

	// Product key
	Product    string `json:"product"`
	Version    string `json:"version"`
	Parameter  string `json:"parameter"`
	Resolution string `json:"resolution"`
	Variable   string `json:"variable"`

	Date time.Time `json:"date"`
	Path string    `json:"path"`
	BBox BBox      `json:"bbox"`

	// Status is the number of failed transfers behind this output; non-zero
	// means some tiles are nodata-filled.
	Status int `json:"status"`

	// Observability
	TraceID string `json:"trace_id"`
}
