package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carelink/models"
	"carelink/utils"

	"firebase.google.com/go/v4/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenMinter issues a client-side identity token for a subject, so the app can also
// sign into Firebase with the same identity.
type TokenMinter interface {
	CustomToken(ctx context.Context, uid string) (string, error)
}

// FirebaseMinter mints Firebase custom tokens.
type FirebaseMinter struct {
	client *auth.Client
}

func NewFirebaseMinter(client *auth.Client) *FirebaseMinter {
	return &FirebaseMinter{client: client}
}

func (m *FirebaseMinter) CustomToken(ctx context.Context, uid string) (string, error) {
	return m.client.CustomToken(ctx, uid)
}

// Store is the ambient authentication state: one session slot per device. Establishing
// a session replaces the slot, which is what evicts a family member when the senior
// verifies on the same device.
type Store interface {
	Establish(ctx context.Context, deviceID string, identity models.VerifiedIdentity) (*models.SessionGrant, error)
	Current(ctx context.Context, deviceID string) (*models.DeviceSession, error)
	Validate(ctx context.Context, token, deviceID string) (*models.DeviceSession, error)
	Clear(ctx context.Context, deviceID string) error
	Capture(ctx context.Context, deviceID string) (*Credential, error)
	Replay(ctx context.Context, deviceID string, cred *Credential) (*models.SessionGrant, error)
}

// Credential is a captured, single-use, time-limited token able to restore one
// subject's session on one device.
type Credential struct {
	SubjectID string
	Token     string
	ExpiresAt time.Time
}

type Options struct {
	SessionTTL time.Duration
	ReplayTTL  time.Duration
	// Minter is optional; without it grants carry no custom token.
	Minter TokenMinter
}

// Manager implements Store on a KVStore and HS256 tokens.
type Manager struct {
	kv     utils.KVStore
	signer *utils.Signer
	opts   Options
	logger *zap.Logger
}

func NewManager(kv utils.KVStore, signer *utils.Signer, logger *zap.Logger, opts Options) *Manager {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * 24 * time.Hour
	}
	if opts.ReplayTTL <= 0 {
		opts.ReplayTTL = 15 * time.Minute
	}
	return &Manager{kv: kv, signer: signer, opts: opts, logger: logger}
}

func deviceKey(deviceID string) string {
	return utils.DeviceSessionPrefix + deviceID
}

func replayKey(jti string) string {
	return utils.ReplayPrefix + jti
}

// Establish issues a session for identity and writes it into the device slot,
// replacing any previous occupant.
func (m *Manager) Establish(ctx context.Context, deviceID string, identity models.VerifiedIdentity) (*models.SessionGrant, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: missing device id", utils.ErrBadRequest)
	}
	token, exp, err := m.signer.GenerateToken(utils.TokenClaims{
		Subject:  identity.SubjectID,
		Phone:    identity.PhoneNumber,
		DeviceID: deviceID,
		Type:     utils.TokenTypeSession,
		ID:       uuid.NewString(),
	}, m.opts.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	now := time.Now()
	slot := models.DeviceSession{
		DeviceID:    deviceID,
		SubjectID:   identity.SubjectID,
		PhoneNumber: identity.PhoneNumber,
		TokenHash:   utils.HashToken(token),
		IssuedAt:    now,
		ExpiresAt:   exp,
	}
	raw, err := json.Marshal(slot)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode device session: %v", utils.ErrNetworkFailure, err)
	}
	if err := m.kv.Set(ctx, deviceKey(deviceID), string(raw), m.opts.SessionTTL); err != nil {
		return nil, fmt.Errorf("%w: failed to store device session: %v", utils.ErrNetworkFailure, err)
	}

	grant := &models.SessionGrant{SubjectID: identity.SubjectID, Token: token, ExpiresAt: exp}
	if m.opts.Minter != nil {
		custom, err := m.opts.Minter.CustomToken(ctx, identity.SubjectID)
		if err != nil {
			m.logger.Warn("failed to mint custom token", zap.String("subjectId", identity.SubjectID), zap.Error(err))
		} else {
			grant.CustomToken = custom
		}
	}

	m.logger.Debug("session established", zap.String("deviceId", deviceID), zap.String("subjectId", identity.SubjectID))
	return grant, nil
}

// Current returns the session occupying the device slot, or ErrUnauthorized when empty.
func (m *Manager) Current(ctx context.Context, deviceID string) (*models.DeviceSession, error) {
	raw, err := m.kv.Get(ctx, deviceKey(deviceID))
	if err != nil {
		if errors.Is(err, utils.ErrCacheMiss) {
			return nil, fmt.Errorf("%w: no session on device", utils.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: failed to read device session: %v", utils.ErrNetworkFailure, err)
	}
	var slot models.DeviceSession
	if err := json.Unmarshal([]byte(raw), &slot); err != nil {
		return nil, fmt.Errorf("%w: failed to decode device session: %v", utils.ErrNetworkFailure, err)
	}
	return &slot, nil
}

// Validate checks a bearer token against the device slot. A token whose session was
// replaced on the device is rejected even though its signature is still valid.
func (m *Manager) Validate(ctx context.Context, token, deviceID string) (*models.DeviceSession, error) {
	claims, err := m.signer.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrUnauthorized, err)
	}
	if claims.Type != utils.TokenTypeSession || claims.DeviceID != deviceID {
		return nil, fmt.Errorf("%w: token not issued for this device", utils.ErrUnauthorized)
	}
	slot, err := m.Current(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if slot.TokenHash != utils.HashToken(token) || slot.SubjectID != claims.Subject {
		return nil, fmt.Errorf("%w: session replaced on device", utils.ErrUnauthorized)
	}
	return slot, nil
}

func (m *Manager) Clear(ctx context.Context, deviceID string) error {
	if err := m.kv.Del(ctx, deviceKey(deviceID)); err != nil {
		return fmt.Errorf("%w: failed to clear device session: %v", utils.ErrNetworkFailure, err)
	}
	return nil
}

// Capture issues a replay credential for whoever currently occupies the device slot.
func (m *Manager) Capture(ctx context.Context, deviceID string) (*Credential, error) {
	slot, err := m.Current(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	jti := uuid.NewString()
	token, exp, err := m.signer.GenerateToken(utils.TokenClaims{
		Subject:  slot.SubjectID,
		Phone:    slot.PhoneNumber,
		DeviceID: deviceID,
		Type:     utils.TokenTypeReplay,
		ID:       jti,
	}, m.opts.ReplayTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign replay credential: %w", err)
	}
	if err := m.kv.Set(ctx, replayKey(jti), slot.SubjectID, m.opts.ReplayTTL); err != nil {
		return nil, fmt.Errorf("%w: failed to store replay credential: %v", utils.ErrNetworkFailure, err)
	}
	return &Credential{SubjectID: slot.SubjectID, Token: token, ExpiresAt: exp}, nil
}

// Replay restores the captured subject's session on the device. The credential is
// consumed on first use; any failure is ErrReauthRequired.
func (m *Manager) Replay(ctx context.Context, deviceID string, cred *Credential) (*models.SessionGrant, error) {
	if cred == nil {
		return nil, fmt.Errorf("%w: no captured credential", utils.ErrReauthRequired)
	}
	claims, err := m.signer.ParseToken(cred.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrReauthRequired, err)
	}
	if claims.Type != utils.TokenTypeReplay || claims.DeviceID != deviceID || claims.ID == "" {
		return nil, fmt.Errorf("%w: credential not valid on this device", utils.ErrReauthRequired)
	}
	subject, err := m.kv.Take(ctx, replayKey(claims.ID))
	if err != nil {
		if errors.Is(err, utils.ErrCacheMiss) {
			return nil, fmt.Errorf("%w: credential already used or expired", utils.ErrReauthRequired)
		}
		return nil, fmt.Errorf("%w: %v", utils.ErrReauthRequired, err)
	}
	if subject != claims.Subject {
		return nil, fmt.Errorf("%w: credential subject mismatch", utils.ErrReauthRequired)
	}

	grant, err := m.Establish(ctx, deviceID, models.VerifiedIdentity{SubjectID: claims.Subject, PhoneNumber: claims.Phone})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrReauthRequired, err)
	}
	return grant, nil
}
