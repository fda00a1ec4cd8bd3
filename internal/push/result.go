package push

// Delivery is what the gateway reports for one send call.
type Delivery struct {
	// MessageID is the backend's opaque id for single/group sends.
	MessageID string `json:"message_id,omitempty"`
	// SuccessCount and FailureCount are set for All sends.
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`
}

// Result is the outcome of a dispatch as seen by callers.
type Result struct {
	Audience   string   `json:"audience"`
	Recipients int      `json:"recipients"`
	Skipped    bool     `json:"skipped,omitempty"` // nothing to send (empty store)
	Delivery   Delivery `json:"delivery"`
}

// Message is a short human-readable summary used in API responses.
func (r Result) Message() string {
	if r.Skipped {
		return "no recipients"
	}
	return "notification sent"
}
