package verification

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/auth"
	"github.com/google/uuid"
)

// IdentityProvider maps a verified phone number to a stable subject identifier.
type IdentityProvider interface {
	SubjectFor(ctx context.Context, phone string) (string, error)
}

// FirebaseIdentities uses Firebase Auth users as subjects, creating one the first
// time a phone number verifies.
type FirebaseIdentities struct {
	client *auth.Client
}

func NewFirebaseIdentities(client *auth.Client) *FirebaseIdentities {
	return &FirebaseIdentities{client: client}
}

func (f *FirebaseIdentities) SubjectFor(ctx context.Context, phone string) (string, error) {
	u, err := f.client.GetUserByPhoneNumber(ctx, phone)
	if err == nil {
		return u.UID, nil
	}
	if !auth.IsUserNotFound(err) {
		return "", fmt.Errorf("failed to look up firebase user: %w", err)
	}
	u, err = f.client.CreateUser(ctx, (&auth.UserToCreate{}).PhoneNumber(phone))
	if err != nil {
		return "", fmt.Errorf("failed to create firebase user: %w", err)
	}
	return u.UID, nil
}

var subjectNamespace = uuid.MustParse("6f1c2b8e-8f7d-4a43-9a0e-1f1f0c7d2a55")

// DerivedIdentities derives a deterministic UUIDv5 subject from the phone number.
type DerivedIdentities struct{}

func (DerivedIdentities) SubjectFor(ctx context.Context, phone string) (string, error) {
	return uuid.NewSHA1(subjectNamespace, []byte(phone)).String(), nil
}
