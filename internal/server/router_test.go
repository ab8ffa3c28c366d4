package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/campusdesk/servicedesk/internal/requests"
	"github.com/campusdesk/servicedesk/internal/users"
)

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestHealthReportsOfflineMode(t *testing.T) {
	agent := newTestAgent(t, agentOptions{})
	recorder := agent.do(t, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	var body struct {
		Status string `json:"status"`
		Online bool   `json:"online"`
	}
	decodeBody(t, recorder, &body)
	if body.Status != "ok" || body.Online {
		t.Fatalf("unexpected health payload %+v", body)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	agent := newTestAgent(t, agentOptions{})
	if recorder := agent.do(t, http.MethodGet, "/requests", "", nil); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}
	if recorder := agent.do(t, http.MethodGet, "/requests", "not-a-token", nil); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", recorder.Code)
	}
}

func TestTokenMustBelongToSignedInUser(t *testing.T) {
	agent := newTestAgent(t, agentOptions{})
	first := agent.register(t, "first@campus.edu")
	second := agent.register(t, "second@campus.edu")

	if recorder := agent.do(t, http.MethodGet, "/requests", first, nil); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a token of a signed-out user, got %d", recorder.Code)
	}
	if recorder := agent.do(t, http.MethodGet, "/requests", second, nil); recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for the signed-in user, got %d", recorder.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	agent := newTestAgent(t, agentOptions{})

	var current struct {
		User *users.User `json:"user"`
	}
	decodeBody(t, agent.do(t, http.MethodGet, "/session", "", nil), &current)
	if current.User != nil {
		t.Fatalf("expected no signed-in user, got %+v", current.User)
	}

	agent.loginAdmin(t)
	recorder := agent.do(t, http.MethodGet, "/session", "", nil)
	decodeBody(t, recorder, &current)
	if current.User == nil || current.User.Email != testAdminEmail || !current.User.IsAdmin() {
		t.Fatalf("unexpected session user %+v", current.User)
	}
	if strings.Contains(recorder.Body.String(), "passwordHash") {
		t.Fatalf("session response leaked a credential: %s", recorder.Body.String())
	}

	if recorder := agent.do(t, http.MethodDelete, "/session", "", nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on logout, got %d", recorder.Code)
	}
	current.User = nil
	decodeBody(t, agent.do(t, http.MethodGet, "/session", "", nil), &current)
	if current.User != nil {
		t.Fatalf("expected signed out, got %+v", current.User)
	}
}

func TestLoginErrorsAreDistinct(t *testing.T) {
	agent := newTestAgent(t, agentOptions{})
	agent.register(t, "jane@campus.edu")

	tests := []struct {
		name    string
		email   string
		message string
	}{
		{name: "unknown-account", email: "nobody@campus.edu", message: "no account with this email"},
		{name: "wrong-password", email: "jane@campus.edu", message: "incorrect password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := agent.do(t, http.MethodPost, "/session", "", map[string]string{"email": tt.email, "password": "nope-nope"})
			if recorder.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", recorder.Code)
			}
			var body struct {
				Message string `json:"message"`
			}
			decodeBody(t, recorder, &body)
			if body.Message != tt.message {
				t.Fatalf("expected message %q, got %q", tt.message, body.Message)
			}
		})
	}
}

func TestRegisterRejectsReservedAndDuplicateEmails(t *testing.T) {
	agent := newTestAgent(t, agentOptions{})
	agent.register(t, "jane@campus.edu")

	if recorder := agent.do(t, http.MethodPost, "/users", "", map[string]string{"email": "JANE@campus.edu", "password": "secret1"}); recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", recorder.Code)
	}
	if recorder := agent.do(t, http.MethodPost, "/users", "", map[string]string{"email": testAdminEmail, "password": "secret1"}); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for reserved email, got %d", recorder.Code)
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	agent := newTestAgent(t, agentOptions{})
	student := agent.register(t, "jane@campus.edu")

	recorder := agent.do(t, http.MethodPost, "/requests", student, facilityPayload())
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var created requests.Request
	decodeBody(t, recorder, &created)
	if created.ID == "" || created.Status != requests.StatusPending || created.Requester.Name != "Jane Doe" {
		t.Fatalf("unexpected created request %+v", created)
	}

	var listed requestListPayload
	decodeBody(t, agent.do(t, http.MethodGet, "/requests?view=mine", student, nil), &listed)
	if len(listed.Requests) != 1 || listed.Requests[0].ID != created.ID {
		t.Fatalf("unexpected listing %+v", listed.Requests)
	}

	if recorder := agent.do(t, http.MethodGet, "/stats", student, nil); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student stats, got %d", recorder.Code)
	}
	if recorder := agent.do(t, http.MethodPatch, "/requests/"+created.ID+"/status", student, map[string]string{"status": "Completed"}); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student status change, got %d", recorder.Code)
	}

	admin := agent.loginAdmin(t)
	recorder = agent.do(t, http.MethodPatch, "/requests/"+created.ID+"/status", admin, map[string]string{"status": "Completed"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on status change, got %d: %s", recorder.Code, recorder.Body.String())
	}
	recorder = agent.do(t, http.MethodPost, "/requests/"+created.ID+"/comments", admin, map[string]string{"text": "All fixed"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on comment, got %d", recorder.Code)
	}

	student = agent.signIn(t, "/session", "jane@campus.edu", "secret1", http.StatusOK)
	recorder = agent.do(t, http.MethodPost, "/requests/"+created.ID+"/reactions", student, map[string]string{"emoji": "🎉"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on reaction, got %d", recorder.Code)
	}
	recorder = agent.do(t, http.MethodPost, "/requests/"+created.ID+"/rating", student, map[string]any{"rating": 5, "feedback": "Quick"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on rating, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var rated requests.Request
	decodeBody(t, recorder, &rated)
	if rated.Rating == nil || *rated.Rating != 5 || len(rated.Reactions) != 1 || len(rated.Comments) != 1 {
		t.Fatalf("unexpected rated request %+v", rated)
	}
	if recorder := agent.do(t, http.MethodPost, "/requests/"+created.ID+"/rating", student, map[string]any{"rating": 4}); recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second rating, got %d", recorder.Code)
	}

	admin = agent.loginAdmin(t)
	if recorder := agent.do(t, http.MethodDelete, "/requests/"+created.ID, admin, nil); recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 purging an active request, got %d", recorder.Code)
	}
	if recorder := agent.do(t, http.MethodPost, "/requests/"+created.ID+"/archive", admin, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on archive, got %d", recorder.Code)
	}
	decodeBody(t, agent.do(t, http.MethodGet, "/requests?view=archived&q=chair", admin, nil), &listed)
	if len(listed.Requests) != 1 {
		t.Fatalf("expected archived request in search, got %d", len(listed.Requests))
	}
	if recorder := agent.do(t, http.MethodDelete, "/requests/"+created.ID, admin, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on purge, got %d", recorder.Code)
	}
	if recorder := agent.do(t, http.MethodPost, "/requests/"+created.ID+"/restore", admin, nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 restoring a purged request, got %d", recorder.Code)
	}
}

func TestValidationErrorsMapToBadRequest(t *testing.T) {
	agent := newTestAgent(t, agentOptions{})
	admin := agent.loginAdmin(t)

	if recorder := agent.do(t, http.MethodPatch, "/requests/missing/status", admin, map[string]string{"status": "Done"}); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", recorder.Code)
	}
	if recorder := agent.do(t, http.MethodPatch, "/requests/missing/status", admin, map[string]string{"status": "Completed"}); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing request, got %d", recorder.Code)
	}

	student := agent.register(t, "jane@campus.edu")
	payload := facilityPayload()
	delete(payload, "images")
	recorder := agent.do(t, http.MethodPost, "/requests", student, payload)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without images, got %d", recorder.Code)
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	decodeBody(t, recorder, &body)
	if body.Error != "desk.submit.invalid_draft" || body.Message != "at least one image is required" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestQuotaMapsToInsufficientStorage(t *testing.T) {
	agent := newTestAgent(t, agentOptions{quota: 4096})
	student := agent.register(t, "jane@campus.edu")

	payload := facilityPayload()
	payload["images"] = []string{sampleImage + strings.Repeat("A", 8192)}
	recorder := agent.do(t, http.MethodPost, "/requests", student, payload)
	if recorder.Code != http.StatusInsufficientStorage {
		t.Fatalf("expected 507, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), "storage limit reached") {
		t.Fatalf("expected actionable storage message, got %s", recorder.Body.String())
	}
}

func TestUserAdministration(t *testing.T) {
	agent := newTestAgent(t, agentOptions{})
	agent.register(t, "jane@campus.edu")
	admin := agent.loginAdmin(t)

	recorder := agent.do(t, http.MethodGet, "/users", admin, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if strings.Contains(recorder.Body.String(), "passwordHash") {
		t.Fatalf("user listing leaked credentials: %s", recorder.Body.String())
	}
	var listed userListPayload
	decodeBody(t, recorder, &listed)
	var jane users.User
	for _, user := range listed.Users {
		if user.Email == "jane@campus.edu" {
			jane = user
		}
	}
	if jane.ID == "" || jane.Verified {
		t.Fatalf("expected an unverified registered user, got %+v", listed.Users)
	}

	recorder = agent.do(t, http.MethodPost, "/users/"+jane.ID+"/verification", admin, nil)
	var toggled users.User
	decodeBody(t, recorder, &toggled)
	if !toggled.Verified {
		t.Fatalf("expected user to be verified")
	}
	if recorder := agent.do(t, http.MethodDelete, "/users/admin1", admin, nil); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 deleting self, got %d", recorder.Code)
	}
	if recorder := agent.do(t, http.MethodDelete, "/users/"+jane.ID, admin, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 deleting user, got %d", recorder.Code)
	}
}

func TestCORSPreflightAllowsConfiguredOrigin(t *testing.T) {
	agent := newTestAgent(t, agentOptions{})

	request := httptest.NewRequest(http.MethodOptions, "/requests", http.NoBody)
	request.Header.Set("Origin", "http://localhost:5173")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")
	recorder := httptest.NewRecorder()
	agent.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("unexpected allow origin %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
	if !strings.Contains(strings.ToLower(recorder.Header().Get("Access-Control-Allow-Headers")), "authorization") {
		t.Fatalf("expected Authorization to be allowed, got %q", recorder.Header().Get("Access-Control-Allow-Headers"))
	}
}
