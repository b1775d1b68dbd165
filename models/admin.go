package models

type LegalSection struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Content  string `json:"content"`
	Audience string `json:"audience"` // a Role, or "all"
	Version  string `json:"version"`  // e.g., "v1.0"
	Updated  string `json:"updated"`  // ISO8601 timestamp
}

// AudienceAll marks legal sections shown to every role.
const AudienceAll = "all"

// AssignmentResult describes a senior/care-manager assignment.
type AssignmentResult struct {
	SeniorID      string `json:"seniorId"`
	CareManagerID string `json:"careManagerId"`
	Changed       bool   `json:"changed"`
}
