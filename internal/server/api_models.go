package server

// StartScanRequest starts a scan job. An empty target scans the configured
// default target.
type StartScanRequest struct {
	Target string `json:"target" example:"http://localhost:3000"`
}

// HealthResponse reports whether the scanner API answers.
type HealthResponse struct {
	Status     string `json:"status" example:"ok"`
	ZapVersion string `json:"zap_version,omitempty" example:"2.15.0"`
	Error      string `json:"error,omitempty"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"not found"`
}
