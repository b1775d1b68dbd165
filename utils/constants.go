// File: utils/constants.go
package utils

// Key prefixes used in the session KV store.
const (
	ChallengePrefix     = "challenge:"
	DeviceSessionPrefix = "device:"
	ReplayPrefix        = "replay:"
)

// Token types carried in the "typ" claim.
const (
	TokenTypeSession = "session"
	TokenTypeReplay  = "replay"
)
