package registration

import (
	"time"

	"carelink/models"
	"carelink/services/session"
	"carelink/services/verification"
)

// State is a registration workflow's position in the state machine.
type State string

const (
	StateCollecting          State = "collecting"
	StateVerifying           State = "verifying"
	StateReconciling         State = "reconciling"
	StateLinked              State = "linked"
	StateLinkedPendingReauth State = "linked_pending_reauth"
	StateFailed              State = "failed"
	StateAbandoned           State = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateLinked, StateLinkedPendingReauth, StateAbandoned:
		return true
	case StateCollecting, StateVerifying, StateReconciling, StateFailed:
		return false
	default:
		return false
	}
}

// Result is what a finished registration reports to the family member.
type Result struct {
	SeniorID    string `json:"seniorId"`
	LinkingCode string `json:"linkingCode"`
	// ReauthRequired is set when the family session could not be restored.
	ReauthRequired bool                 `json:"reauthRequired"`
	Grant          *models.SessionGrant `json:"session,omitempty"`
}

// Workflow is one "family registers senior" attempt.
type Workflow struct {
	ID          string               `json:"id"`
	FamilyID    string               `json:"familyId"`
	DeviceID    string               `json:"-"`
	State       State                `json:"state"`
	Senior      models.SeniorDetails `json:"senior"`
	ChallengeID string               `json:"challengeId,omitempty"`
	Result      *Result              `json:"result,omitempty"`
	LastError   string               `json:"lastError,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`

	pending *pendingVerification
	busy    bool
}

// pendingVerification is what must survive the suspension between Verifying and
// Reconciling. It lives only in process memory.
type pendingVerification struct {
	credential *session.Credential
	handle     *verification.ChallengeHandle
	details    models.SeniorDetails
}

func (w *Workflow) snapshot() *Workflow {
	c := *w
	c.pending = nil
	if w.Result != nil {
		r := *w.Result
		c.Result = &r
	}
	return &c
}

func (w *Workflow) transition(to State) {
	w.State = to
	w.UpdatedAt = time.Now()
}
