package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	userRepo "carelink/database/repository/user"
	"carelink/handlers"
	"carelink/services/account"
	"carelink/services/admin"
	"carelink/services/linking"
	"carelink/services/notification"
	"carelink/services/reconcile"
	"carelink/services/registration"
	"carelink/services/resolver"
	"carelink/services/session"
	"carelink/services/verification"
	"carelink/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const adminToken = "let-me-in"

type captureSender struct {
	mu   sync.Mutex
	last map[string]string
}

func (s *captureSender) Send(ctx context.Context, phone, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		s.last = make(map[string]string)
	}
	fields := strings.Fields(body)
	s.last[phone] = fields[len(fields)-1]
	return nil
}

func (s *captureSender) code(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[phone]
}

type server struct {
	engine *gin.Engine
	repo   *userRepo.MemoryUserRepo
	sender *captureSender
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	utils.Logger = zap.NewNop()
	logger := zap.NewNop()

	repo := userRepo.NewMemoryUserRepo()
	kv := utils.NewMemoryKVStore()
	sessions := session.NewManager(kv, utils.NewSigner("test-secret"), logger, session.Options{
		SessionTTL: time.Hour, ReplayTTL: time.Minute,
	})
	sender := &captureSender{}
	gateway := verification.NewPhoneGateway(kv, sender, verification.DerivedIdentities{}, sessions, logger, verification.Options{
		DefaultCountryCode: "+91", ChallengeTTL: time.Minute, PerMinute: 10,
	})
	notifications, err := notification.NewDefaultNotificationService(repo, nil, nil, logger)
	require.NoError(t, err)
	res := resolver.NewResolver(repo, logger)
	migrator := reconcile.NewMigrator(repo, logger)
	registry := linking.NewRegistry(repo, notifications, logger)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)

	hb := &handlers.HandlerBundle{
		UserRepo:       repo,
		Sessions:       sessions,
		AdminTokenHash: string(hash),
		MaxRequestsMin: 1000,
		Auth: handlers.NewAuthHandler(account.NewService(repo, gateway, sessions, res, migrator, logger,
			account.Options{DefaultCountryCode: "+91"})),
		Registration: handlers.NewRegistrationHandler(registration.NewCoordinator(repo, gateway, sessions, res, registry, migrator,
			notifications, logger, registration.Options{DefaultCountryCode: "+91"})),
		Linking: handlers.NewLinkingHandler(registry),
		Devices: handlers.NewDeviceHandler(notifications),
		Admin: handlers.NewAdminHandler(admin.NewDefaultAdminService(repo, notifications, logger,
			admin.Options{DefaultCountryCode: "+91"}), reconcile.NewJanitor(repo, migrator, logger, reconcile.JanitorOptions{})),
	}

	engine := gin.New()
	RegisterRoutes(engine, hb)
	return &server{engine: engine, repo: repo, sender: sender}
}

func (s *server) do(t *testing.T, method, path, device, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if device != "" {
		req.Header.Set("X-Device-ID", device)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	out := map[string]interface{}{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (s *server) login(t *testing.T, device, phone, role string) map[string]interface{} {
	t.Helper()
	w, out := s.do(t, http.MethodPost, "/api/auth/login/begin", device, "", gin.H{"phoneNumber": phone, "role": role})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	challengeID := out["challengeId"].(string)
	normalized := out["phoneNumber"].(string)

	w, out = s.do(t, http.MethodPost, "/api/auth/login/complete", device, "", gin.H{
		"challengeId": challengeID, "code": s.sender.code(normalized), "role": role,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return out
}

func sessionToken(out map[string]interface{}) string {
	return out["session"].(map[string]interface{})["token"].(string)
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w, out := s.do(t, http.MethodGet, "/health", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", out["status"])
}

func TestDeviceHeaderRequired(t *testing.T) {
	s := newServer(t)
	w, _ := s.do(t, http.MethodPost, "/api/auth/login/begin", "", "", gin.H{"phoneNumber": "+919800000001", "role": "family"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFamilyLoginAndProfileSetup(t *testing.T) {
	s := newServer(t)
	out := s.login(t, "dev-1", "98000 00001", "family")
	require.Equal(t, true, out["needsProfileSetup"])
	token := sessionToken(out)

	w, _ := s.do(t, http.MethodGet, "/api/auth/me", "dev-1", token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w, profile := s.do(t, http.MethodPost, "/api/auth/profile", "dev-1", token, gin.H{"name": "Ravi"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "family", profile["role"])

	w, me := s.do(t, http.MethodGet, "/api/auth/me", "dev-1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Ravi", me["name"])

	// The token is bound to the device it was issued on.
	w, _ = s.do(t, http.MethodGet, "/api/auth/me", "dev-2", token, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/auth/logout", "dev-1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/auth/me", "dev-1", token, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUnknownSeniorLoginRejected(t *testing.T) {
	s := newServer(t)
	w, out := s.do(t, http.MethodPost, "/api/auth/login/begin", "dev-1", "", gin.H{"phoneNumber": "+919800000002", "role": "senior"})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "not_found", out["code"])
}

func TestRegisterSeniorOverHTTP(t *testing.T) {
	s := newServer(t)
	out := s.login(t, "dev-1", "+919800000001", "family")
	token := sessionToken(out)
	w, _ := s.do(t, http.MethodPost, "/api/auth/profile", "dev-1", token, gin.H{"name": "Ravi"})
	require.Equal(t, http.StatusOK, w.Code)

	w, wf := s.do(t, http.MethodPost, "/api/registration", "dev-1", token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := wf["id"].(string)

	w, wf = s.do(t, http.MethodPost, "/api/registration/"+id+"/details", "dev-1", token, gin.H{
		"phoneNumber": "+919800000002", "name": "Asha",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "verifying", wf["state"])

	w, wf = s.do(t, http.MethodPost, "/api/registration/"+id+"/verify", "dev-1", token, gin.H{
		"code": s.sender.code("+919800000002"),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "linked", wf["state"])
	result := wf["result"].(map[string]interface{})
	require.Len(t, result["linkingCode"], 6)

	// The restored family session replaces the old token.
	w, _ = s.do(t, http.MethodGet, "/api/auth/me", "dev-1", token, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	fresh := sessionToken(result)
	w, me := s.do(t, http.MethodGet, "/api/auth/me", "dev-1", fresh, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, me["linkedSeniorIds"], 1)
}

func TestLinkingRoutesCheckRole(t *testing.T) {
	s := newServer(t)
	out := s.login(t, "dev-1", "+919800000001", "family")
	token := sessionToken(out)
	w, _ := s.do(t, http.MethodPost, "/api/auth/profile", "dev-1", token, gin.H{"name": "Ravi"})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := s.do(t, http.MethodGet, "/api/linking/code", "dev-1", token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "role_mismatch", body["code"])

	w, body = s.do(t, http.MethodPost, "/api/linking/redeem", "dev-1", token, gin.H{"code": "zzzzzz"})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "not_found", body["code"])
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t)

	w, _ := s.do(t, http.MethodGet, "/api/admin/prerecords", "", "wrong", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w, created := s.do(t, http.MethodPost, "/api/admin/prerecords", "", adminToken, gin.H{
		"role": "caremanager", "phoneNumber": "+919800000005", "name": "Meera",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "admin", created["origin"])

	w, _ = s.do(t, http.MethodPost, "/api/admin/prerecords", "", adminToken, gin.H{
		"role": "senior", "phoneNumber": "+919800000005", "name": "Dup",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	out := s.login(t, "dev-9", "+919800000005", "caremanager")
	profile := out["profile"].(map[string]interface{})
	require.Equal(t, "Meera", profile["name"])
	require.Equal(t, "verified", profile["origin"])

	p, err := s.repo.GetByID(context.Background(), created["id"].(string))
	require.NoError(t, err)
	require.Nil(t, p)
	require.Equal(t, 1, s.repo.Len())
}
