package verification

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"carelink/models"
	"carelink/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChallengeHandle identifies one outstanding phone challenge. Clients only ever need
// the ID; the rest is informational.
type ChallengeHandle struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"deviceId"`
	PhoneNumber string    `json:"phoneNumber"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Verification is a completed challenge: the verified identity and the session that
// now occupies the challenge's device.
type Verification struct {
	models.VerifiedIdentity
	DeviceID string
	Grant    *models.SessionGrant
}

// Gateway proves possession of a phone number.
type Gateway interface {
	BeginVerification(ctx context.Context, deviceID, phone string) (*ChallengeHandle, error)
	CompleteVerification(ctx context.Context, handleID, code string) (*Verification, error)
}

// SessionEstablisher writes a verified identity into a device's session slot.
type SessionEstablisher interface {
	Establish(ctx context.Context, deviceID string, identity models.VerifiedIdentity) (*models.SessionGrant, error)
}

type Options struct {
	DefaultCountryCode string
	ChallengeTTL       time.Duration
	PerMinute          int
	CodeLength         int
	MaxAttempts        int
}

type challengeRecord struct {
	Handle   ChallengeHandle `json:"handle"`
	CodeHash string          `json:"codeHash"`
	Attempts int             `json:"attempts"`
}

// PhoneGateway issues numeric codes, keeps challenges in the KV store and
// establishes the device session when a code is confirmed.
type PhoneGateway struct {
	kv         utils.KVStore
	sender     Sender
	identities IdentityProvider
	sessions   SessionEstablisher
	opts       Options
	limiter    *phoneLimiter
	logger     *zap.Logger
}

func NewPhoneGateway(
	kv utils.KVStore,
	sender Sender,
	identities IdentityProvider,
	sessions SessionEstablisher,
	logger *zap.Logger,
	opts Options,
) *PhoneGateway {
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = 10 * time.Minute
	}
	if opts.PerMinute <= 0 {
		opts.PerMinute = 3
	}
	if opts.CodeLength <= 0 {
		opts.CodeLength = 6
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &PhoneGateway{
		kv:         kv,
		sender:     sender,
		identities: identities,
		sessions:   sessions,
		opts:       opts,
		limiter:    newPhoneLimiter(opts.PerMinute),
		logger:     logger,
	}
}

func challengeKey(id string) string {
	return utils.ChallengePrefix + id
}

func (g *PhoneGateway) BeginVerification(ctx context.Context, deviceID, phone string) (*ChallengeHandle, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: missing device id", utils.ErrBadRequest)
	}
	number, err := NormalizePhone(phone, g.opts.DefaultCountryCode)
	if err != nil {
		return nil, err
	}
	if !g.limiter.allow(number) {
		return nil, fmt.Errorf("%w: %s", utils.ErrRateLimited, number)
	}

	code, err := utils.GenerateNumericOTP(g.opts.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}
	rec := challengeRecord{
		Handle: ChallengeHandle{
			ID:          uuid.NewString(),
			DeviceID:    deviceID,
			PhoneNumber: number,
			ExpiresAt:   time.Now().Add(g.opts.ChallengeTTL),
		},
		CodeHash: utils.HashToken(code),
	}
	if err := g.save(ctx, rec, g.opts.ChallengeTTL); err != nil {
		return nil, err
	}

	body := fmt.Sprintf("Your CareLink verification code is %s", code)
	if err := g.sender.Send(ctx, number, body); err != nil {
		_ = g.kv.Del(ctx, challengeKey(rec.Handle.ID))
		return nil, err
	}

	g.logger.Info("verification started", zap.String("challengeId", rec.Handle.ID), zap.String("deviceId", deviceID))
	return &rec.Handle, nil
}

func (g *PhoneGateway) CompleteVerification(ctx context.Context, handleID, code string) (*Verification, error) {
	rec, err := g.load(ctx, handleID)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(rec.CodeHash), []byte(utils.HashToken(code))) != 1 {
		rec.Attempts++
		if rec.Attempts >= g.opts.MaxAttempts {
			_ = g.kv.Del(ctx, challengeKey(handleID))
			return nil, fmt.Errorf("%w: attempts exhausted", utils.ErrInvalidCode)
		}
		if remaining := time.Until(rec.Handle.ExpiresAt); remaining > 0 {
			if err := g.save(ctx, *rec, remaining); err != nil {
				return nil, err
			}
		}
		return nil, utils.ErrInvalidCode
	}

	// A challenge confirms exactly once.
	if _, err := g.kv.Take(ctx, challengeKey(handleID)); err != nil {
		if errors.Is(err, utils.ErrCacheMiss) {
			return nil, utils.ErrChallengeExpired
		}
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}

	subject, err := g.identities.SubjectFor(ctx, rec.Handle.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	identity := models.VerifiedIdentity{SubjectID: subject, PhoneNumber: rec.Handle.PhoneNumber}

	grant, err := g.sessions.Establish(ctx, rec.Handle.DeviceID, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}

	g.logger.Info("verification completed", zap.String("challengeId", handleID), zap.String("subjectId", subject))
	return &Verification{VerifiedIdentity: identity, DeviceID: rec.Handle.DeviceID, Grant: grant}, nil
}

func (g *PhoneGateway) save(ctx context.Context, rec challengeRecord, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: failed to encode challenge: %v", utils.ErrNetworkFailure, err)
	}
	if err := g.kv.Set(ctx, challengeKey(rec.Handle.ID), string(raw), ttl); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	return nil
}

func (g *PhoneGateway) load(ctx context.Context, handleID string) (*challengeRecord, error) {
	raw, err := g.kv.Get(ctx, challengeKey(handleID))
	if err != nil {
		if errors.Is(err, utils.ErrCacheMiss) {
			return nil, utils.ErrChallengeExpired
		}
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	var rec challengeRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%w: failed to decode challenge: %v", utils.ErrNetworkFailure, err)
	}
	return &rec, nil
}

// phoneLimiterIdleTTL is long enough for any bucket to refill, so an entry idle this
// long is indistinguishable from a new one.
const phoneLimiterIdleTTL = 2 * time.Minute

type phoneBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// phoneLimiter holds one token bucket per phone number.
type phoneLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*phoneBucket
	perMin    int
	lastPrune time.Time
	now       func() time.Time
}

func newPhoneLimiter(perMinute int) *phoneLimiter {
	return &phoneLimiter{limiters: make(map[string]*phoneBucket), perMin: perMinute, now: time.Now}
}

func (l *phoneLimiter) allow(phone string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) > phoneLimiterIdleTTL {
		for key, b := range l.limiters {
			if now.Sub(b.lastSeen) > phoneLimiterIdleTTL {
				delete(l.limiters, key)
			}
		}
		l.lastPrune = now
	}

	b, ok := l.limiters[phone]
	if !ok {
		b = &phoneBucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)}
		l.limiters[phone] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *phoneLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
