package zap

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedResponse is returned when the API answers with something
	// that is neither the expected JSON shape nor a ZAP error document.
	ErrUnexpectedResponse = errors.New("unexpected api response")

	// ErrBadStatus is returned when a progress value is not an integer.
	ErrBadStatus = errors.New("malformed scan status")
)

// APIError is the error document ZAP returns for rejected calls, e.g.
// {"code":"bad_api_key","message":"..."}.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("zap api error %s (http %d)", e.Code, e.StatusCode)
	}
	return fmt.Sprintf("zap api error %s (http %d): %s", e.Code, e.StatusCode, e.Message)
}

// Risk levels as ZAP reports them.
const (
	RiskInformational = "Informational"
	RiskLow           = "Low"
	RiskMedium        = "Medium"
	RiskHigh          = "High"
)

// Alert is a single finding from core/view/alerts. ZAP encodes every value
// as a string.
type Alert struct {
	ID          string `json:"id"`
	PluginID    string `json:"pluginId"`
	Alert       string `json:"alert"`
	Name        string `json:"name"`
	Risk        string `json:"risk"`
	Confidence  string `json:"confidence"`
	URL         string `json:"url"`
	Method      string `json:"method,omitempty"`
	Param       string `json:"param"`
	Attack      string `json:"attack,omitempty"`
	Evidence    string `json:"evidence"`
	Description string `json:"description"`
	Solution    string `json:"solution,omitempty"`
	Reference   string `json:"reference,omitempty"`
	CWEID       string `json:"cweid"`
	WASCID      string `json:"wascid"`
	MessageID   string `json:"messageId,omitempty"`
}

// Title returns the alert's display name, preferring "alert" over "name".
func (a Alert) Title() string {
	if a.Alert != "" {
		return a.Alert
	}
	return a.Name
}

// RiskRank orders risks from Informational (0) to High (3). Unknown risks
// rank below Informational.
func RiskRank(risk string) int {
	switch risk {
	case RiskInformational:
		return 0
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	}
	return -1
}

// AlertsFilter narrows core/view/alerts. Zero values are omitted.
type AlertsFilter struct {
	BaseURL string
	Start   int
	Count   int
}
