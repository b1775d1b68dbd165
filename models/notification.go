package models

// Push types carried in the "type" data key.
const (
	PushSeniorLinked     = "senior_linked"
	PushSeniorRegistered = "senior_registered"
	PushSeniorAssigned   = "senior_assigned"
)

// PushPayload is the queued notification for one subject's devices.
type PushPayload struct {
	SubjectID string            `json:"subjectId"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
}
