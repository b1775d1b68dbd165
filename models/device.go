// File: carelink/models/device.go
package models

import "time"

// DeviceSession is the ambient authenticated session held in a device's single slot.
// Establishing a new session on the device replaces whatever was there.
type DeviceSession struct {
	DeviceID    string    `json:"deviceId"`
	SubjectID   string    `json:"subjectId"`
	PhoneNumber string    `json:"phoneNumber"`
	TokenHash   string    `json:"tokenHash"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// SessionGrant is what a client receives when a session is established for it.
type SessionGrant struct {
	SubjectID   string    `json:"subjectId"`
	Token       string    `json:"token"`
	CustomToken string    `json:"customToken,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}
