package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campusdesk/servicedesk/internal/auth"
	"github.com/campusdesk/servicedesk/internal/cache"
	"github.com/campusdesk/servicedesk/internal/coordinator"
	"github.com/campusdesk/servicedesk/internal/database"
	"github.com/campusdesk/servicedesk/internal/desk"
	"github.com/campusdesk/servicedesk/internal/events"
	"github.com/campusdesk/servicedesk/internal/remote"
	"github.com/campusdesk/servicedesk/internal/session"
	"github.com/campusdesk/servicedesk/internal/users"
)

const (
	testAdminEmail    = "ops@campus.edu"
	testAdminPassword = "admin123"
	testSigningSecret = "router-secret"
	jsonContentType   = "application/json"
	sampleImage       = "data:image/png;base64,iVBORw0KGgo="
)

type testAgent struct {
	handler     http.Handler
	coordinator *coordinator.Coordinator
}

type agentOptions struct {
	quota  int64
	remote remote.Store
}

func newTestAgent(t *testing.T, options agentOptions) testAgent {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "agent.db"), nil)
	if err != nil {
		t.Fatalf("failed to open cache database: %v", err)
	}
	store, err := cache.NewStore(cache.Config{Database: db, QuotaBytes: options.quota, Dispatcher: events.NewDispatcher()})
	if err != nil {
		t.Fatalf("failed to build cache store: %v", err)
	}

	account := users.AdminAccount{ID: "admin1", Name: "Ops", Email: testAdminEmail, Password: testAdminPassword}
	hash, err := users.HashCredential(account.Password)
	if err != nil {
		t.Fatalf("failed to hash admin credential: %v", err)
	}
	adminRecord := account.User(hash)

	coord, err := coordinator.New(coordinator.Config{Cache: store, Remote: options.remote, Admin: adminRecord, WriteTimeout: time.Second})
	if err != nil {
		t.Fatalf("failed to build coordinator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = coord.Close(ctx)
	})

	sessions, err := session.NewManager(store)
	if err != nil {
		t.Fatalf("failed to build session manager: %v", err)
	}
	service, err := desk.NewService(desk.Config{
		Repository:  coord,
		Sessions:    sessions,
		Admin:       account,
		AdminRecord: adminRecord,
	})
	if err != nil {
		t.Fatalf("failed to build desk service: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret), TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Desk:           service,
		TokenManager:   tokens,
		Snapshots:      coord,
		AllowedOrigins: []string{"http://localhost:5173"},
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return testAgent{handler: handler, coordinator: coord}
}

func (a testAgent) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	a.handler.ServeHTTP(recorder, request)
	return recorder
}

func (a testAgent) signIn(t *testing.T, path, email, password string, expectedStatus int) string {
	t.Helper()
	recorder := a.do(t, http.MethodPost, path, "", map[string]string{"email": email, "password": password})
	if recorder.Code != expectedStatus {
		t.Fatalf("expected status %d from %s, got %d: %s", expectedStatus, path, recorder.Code, recorder.Body.String())
	}
	var response sessionResponsePayload
	decodeBody(t, recorder, &response)
	if response.AccessToken == "" || response.TokenType != tokenTypeBearer {
		t.Fatalf("unexpected session response %+v", response)
	}
	return response.AccessToken
}

func (a testAgent) loginAdmin(t *testing.T) string {
	t.Helper()
	return a.signIn(t, "/session", testAdminEmail, testAdminPassword, http.StatusOK)
}

func (a testAgent) register(t *testing.T, email string) string {
	t.Helper()
	return a.signIn(t, "/users", email, "secret1", http.StatusCreated)
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func facilityPayload() map[string]any {
	return map[string]any{
		"title":    "Broken chair",
		"category": "Facilities",
		"location": "Room 101",
		"images":   []string{sampleImage},
		"name":     "Jane Doe",
		"role":     "STUDENT",
		"course":   "BSIT",
	}
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}
