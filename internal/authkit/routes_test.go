package authkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tbase/internal/auth"
	"github.com/tyemirov/tbase/internal/docstore"
	"github.com/tyemirov/tbase/internal/identity"
	"github.com/tyemirov/tbase/pkg/sessionvalidator"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/idtoken"
)

const (
	testClientID   = "client-id.apps.googleusercontent.com"
	testSigningKey = "signing-secret"
	testIssuer     = "tbase-test"
)

type recordingMailer struct {
	mutex    sync.Mutex
	messages []identity.Message
}

func (mailer *recordingMailer) Send(ctx context.Context, message identity.Message) error {
	mailer.mutex.Lock()
	defer mailer.mutex.Unlock()
	mailer.messages = append(mailer.messages, message)
	return nil
}

func (mailer *recordingMailer) lastCode(t *testing.T, purpose string) string {
	t.Helper()
	mailer.mutex.Lock()
	defer mailer.mutex.Unlock()
	for index := len(mailer.messages) - 1; index >= 0; index-- {
		if mailer.messages[index].Purpose == purpose {
			return mailer.messages[index].Code
		}
	}
	t.Fatalf("no %s message sent", purpose)
	return ""
}

// nonceGoogleValidator accepts "google-token" and echoes the nonce it was told to expect.
type nonceGoogleValidator struct {
	mutex sync.Mutex
	nonce string
}

func (validator *nonceGoogleValidator) expect(nonce string) {
	validator.mutex.Lock()
	validator.nonce = nonce
	validator.mutex.Unlock()
}

func (validator *nonceGoogleValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	if token != "google-token" || audience != testClientID {
		return nil, errors.New("token rejected")
	}
	validator.mutex.Lock()
	defer validator.mutex.Unlock()
	return &idtoken.Payload{
		Issuer:   "https://accounts.google.com",
		Audience: audience,
		Subject:  "google-sub",
		Claims: map[string]interface{}{
			"iss":            "https://accounts.google.com",
			"sub":            "google-sub",
			"email":          "grace@example.com",
			"email_verified": true,
			"name":           "Grace",
			"nonce":          validator.nonce,
		},
	}, nil
}

type routeHarness struct {
	router  *gin.Engine
	config  ServerConfig
	mailer  *recordingMailer
	google  *nonceGoogleValidator
	metrics *CounterMetrics
	store   *docstore.Store
}

func newTestServerConfig() ServerConfig {
	return ServerConfig{
		GoogleWebClientID: testClientID,
		AppJWTSigningKey:  []byte(testSigningKey),
		AppJWTIssuer:      testIssuer,
		SessionCookieName: "app_session",
		RefreshCookieName: "app_refresh",
		SessionTTL:        15 * time.Minute,
		RefreshTTL:        24 * time.Hour,
		NonceTTL:          time.Minute,
		SameSiteMode:      http.SameSiteStrictMode,
		AllowInsecureHTTP: true,
	}
}

func newRouteHarness(t *testing.T, configure func(*ServerConfig)) *routeHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config := newTestServerConfig()
	if configure != nil {
		configure(&config)
	}
	logger := zaptest.NewLogger(t)
	mailer := &recordingMailer{}
	google := &nonceGoogleValidator{}
	backend, err := identity.NewDatabaseBackend(context.Background(), openTestHandle(t), identity.DatabaseConfig{
		GoogleClientID: testClientID,
		AppBaseURL:     "https://app.example.com",
	}, mailer, google, logger)
	if err != nil {
		t.Fatalf("identity backend: %v", err)
	}
	harness := &routeHarness{
		router:  gin.New(),
		config:  config,
		mailer:  mailer,
		google:  google,
		metrics: NewCounterMetrics(),
		store:   docstore.NewStore(docstore.NewMemoryBackend(), logger),
	}
	if err := MountAuthRoutes(harness.router, config, Services{
		Identity:  backend,
		Documents: harness.store,
		Metrics:   harness.metrics,
		Logger:    logger,
	}); err != nil {
		t.Fatalf("mount routes: %v", err)
	}
	return harness
}

// cookieJar keeps the latest value per cookie name; cleared cookies are dropped.
type cookieJar map[string]string

func (jar cookieJar) absorb(cookies []*http.Cookie) {
	for _, cookie := range cookies {
		if cookie.MaxAge < 0 || cookie.Value == "" {
			delete(jar, cookie.Name)
			continue
		}
		jar[cookie.Name] = cookie.Value
	}
}

func (jar cookieJar) clone() cookieJar {
	copied := cookieJar{}
	for name, value := range jar {
		copied[name] = value
	}
	return copied
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

func (harness *routeHarness) do(t *testing.T, method string, path string, body string, jar cookieJar) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	for name, value := range jar {
		request.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	if jar != nil {
		jar.absorb(recorder.Result().Cookies())
	}
	var decoded envelope
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("%s %s: body is not an envelope: %q", method, path, recorder.Body.String())
	}
	return recorder, decoded
}

func decodeIdentity(t *testing.T, payload envelope) identity.Identity {
	t.Helper()
	var decoded identity.Identity
	if err := json.Unmarshal(payload.Data, &decoded); err != nil {
		t.Fatalf("decode identity: %v", err)
	}
	return decoded
}

func errorText(payload envelope) string {
	if payload.Error == nil {
		return ""
	}
	return *payload.Error
}

const signupBody = `{"displayName":"Ada","email":"ada@example.com","password":"secret1","confirmPassword":"secret1"}`

func TestEmailAccountLifecycle(t *testing.T) {
	t.Parallel()
	harness := newRouteHarness(t, nil)
	jar := cookieJar{}

	recorder, payload := harness.do(t, http.MethodPost, "/auth/signup", `{"displayName":"Ada","email":"ada@example.com","password":"secret1","confirmPassword":"other"}`, jar)
	if recorder.Code != http.StatusBadRequest || errorText(payload) != auth.MessagePasswordsMismatch {
		t.Fatalf("expected mismatch rejection, got %d %q", recorder.Code, errorText(payload))
	}

	recorder, payload = harness.do(t, http.MethodPost, "/auth/signup", signupBody, jar)
	if recorder.Code != http.StatusOK || !payload.Success {
		t.Fatalf("signup failed: %d %q", recorder.Code, errorText(payload))
	}
	created := decodeIdentity(t, payload)
	if created.Email != "ada@example.com" || created.DisplayName != "Ada" || created.EmailVerified {
		t.Fatalf("unexpected identity %#v", created)
	}
	if jar[harness.config.SessionCookieName] == "" || jar[harness.config.RefreshCookieName] == "" {
		t.Fatalf("signup must set session and refresh cookies, got %v", jar)
	}
	if !harness.store.Exists(context.Background(), auth.UsersCollection, created.UID) {
		t.Fatalf("profile document not provisioned")
	}

	recorder, payload = harness.do(t, http.MethodGet, "/me", "", jar)
	if recorder.Code != http.StatusOK || decodeIdentity(t, payload).UID != created.UID {
		t.Fatalf("me failed: %d %s", recorder.Code, recorder.Body.String())
	}

	code := harness.mailer.lastCode(t, identity.PurposeEmailVerification)
	recorder, payload = harness.do(t, http.MethodPost, "/auth/verification/confirm", `{"code":"`+code+`"}`, nil)
	if recorder.Code != http.StatusOK || !decodeIdentity(t, payload).EmailVerified {
		t.Fatalf("verification failed: %d %s", recorder.Code, recorder.Body.String())
	}
	recorder, payload = harness.do(t, http.MethodPost, "/auth/verification/confirm", `{"code":"`+code+`"}`, nil)
	if recorder.Code != http.StatusBadRequest || errorText(payload) != "This link is invalid or has already been used" {
		t.Fatalf("reused code accepted: %d %q", recorder.Code, errorText(payload))
	}

	staleRefresh := jar.clone()
	recorder, payload = harness.do(t, http.MethodPost, "/auth/refresh", "", jar)
	if recorder.Code != http.StatusOK || !decodeIdentity(t, payload).EmailVerified {
		t.Fatalf("refresh failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if jar[harness.config.RefreshCookieName] == staleRefresh[harness.config.RefreshCookieName] {
		t.Fatalf("refresh token was not rotated")
	}
	recorder, payload = harness.do(t, http.MethodPost, "/auth/refresh", "", staleRefresh)
	if recorder.Code != http.StatusUnauthorized || errorText(payload) != MessageSessionExpired {
		t.Fatalf("rotated refresh token still accepted: %d", recorder.Code)
	}

	recorder, _ = harness.do(t, http.MethodPost, "/auth/logout", "", jar)
	if recorder.Code != http.StatusOK || len(jar) != 0 {
		t.Fatalf("logout should clear cookies, got %d %v", recorder.Code, jar)
	}

	recorder, payload = harness.do(t, http.MethodPost, "/auth/login", `{"email":"ada@example.com","password":"wrong-one"}`, jar)
	if recorder.Code != http.StatusUnauthorized || errorText(payload) != "Incorrect password" {
		t.Fatalf("expected mapped login failure, got %d %q", recorder.Code, errorText(payload))
	}
	recorder, _ = harness.do(t, http.MethodPost, "/auth/login", `{"email":"ada@example.com","password":"secret1"}`, jar)
	if recorder.Code != http.StatusOK || jar[harness.config.SessionCookieName] == "" {
		t.Fatalf("login failed: %d", recorder.Code)
	}

	if harness.metrics.Count(MetricSignupSuccess) != 1 || harness.metrics.Count(MetricLoginFailure) != 1 || harness.metrics.Count(MetricRefreshFailure) != 1 {
		t.Fatalf("unexpected metrics %v", harness.metrics.Snapshot())
	}
}

func TestFormValidationNeverReachesBackend(t *testing.T) {
	t.Parallel()
	harness := newRouteHarness(t, nil)

	testCases := []struct {
		name     string
		path     string
		body     string
		expected string
	}{
		{name: "signup missing fields", path: "/auth/signup", body: `{"email":"a@b.com"}`, expected: auth.MessageFillAllFields},
		{name: "signup short password", path: "/auth/signup", body: `{"displayName":"A","email":"a@b.com","password":"123","confirmPassword":"123"}`, expected: auth.MessagePasswordTooShort},
		{name: "login missing password", path: "/auth/login", body: `{"email":"a@b.com"}`, expected: auth.MessageFillAllFields},
		{name: "reset missing email", path: "/auth/password-reset", body: `{}`, expected: auth.MessageEnterEmail},
		{name: "malformed json", path: "/auth/login", body: `{`, expected: MessageInvalidRequest},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			recorder, payload := harness.do(t, http.MethodPost, testCase.path, testCase.body, nil)
			if recorder.Code != http.StatusBadRequest || errorText(payload) != testCase.expected {
				t.Fatalf("expected 400 %q, got %d %q", testCase.expected, recorder.Code, errorText(payload))
			}
		})
	}
	if len(harness.metrics.Snapshot()) != 0 {
		t.Fatalf("rejected forms must not count as attempts: %v", harness.metrics.Snapshot())
	}
}

func TestGoogleSignInRequiresIssuedNonce(t *testing.T) {
	t.Parallel()
	harness := newRouteHarness(t, nil)
	jar := cookieJar{}

	recorder, payload := harness.do(t, http.MethodPost, "/auth/google", `{"google_id_token":"google-token","nonce":"never-issued"}`, jar)
	if recorder.Code != http.StatusUnauthorized || errorText(payload) != MessageNonceRejected {
		t.Fatalf("expected nonce rejection, got %d %q", recorder.Code, errorText(payload))
	}

	_, payload = harness.do(t, http.MethodGet, "/auth/nonce", "", nil)
	var issued struct {
		Nonce string `json:"nonce"`
	}
	if err := json.Unmarshal(payload.Data, &issued); err != nil || issued.Nonce == "" {
		t.Fatalf("nonce not issued: %s", string(payload.Data))
	}
	harness.google.expect(issued.Nonce)

	body := `{"google_id_token":"google-token","nonce":"` + issued.Nonce + `"}`
	recorder, payload = harness.do(t, http.MethodPost, "/auth/google", body, jar)
	if recorder.Code != http.StatusOK {
		t.Fatalf("google sign-in failed: %d %q", recorder.Code, errorText(payload))
	}
	account := decodeIdentity(t, payload)
	if account.ProviderID != identity.ProviderGoogle || !account.EmailVerified {
		t.Fatalf("unexpected identity %#v", account)
	}
	profile := harness.store.Read(context.Background(), auth.UsersCollection, account.UID)
	if !profile.Success || profile.Data.Fields["provider"] != auth.ProfileProviderGoogle {
		t.Fatalf("google profile not provisioned: %#v", profile)
	}

	recorder, _ = harness.do(t, http.MethodPost, "/auth/google", body, cookieJar{})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("nonce replay accepted: %d", recorder.Code)
	}
}

func TestGoogleSignInRequiresHTTPS(t *testing.T) {
	t.Parallel()
	harness := newRouteHarness(t, func(config *ServerConfig) { config.AllowInsecureHTTP = false })

	request := func(headers map[string]string) int {
		httpRequest := httptest.NewRequest(http.MethodPost, "http://auth.example.com/auth/google", bytes.NewReader([]byte(`{"google_id_token":"google-token","nonce":"n"}`)))
		httpRequest.Header.Set("Content-Type", "application/json")
		for name, value := range headers {
			httpRequest.Header.Set(name, value)
		}
		recorder := httptest.NewRecorder()
		harness.router.ServeHTTP(recorder, httpRequest)
		return recorder.Code
	}

	if status := request(nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 over plain http, got %d", status)
	}
	if status := request(map[string]string{"X-Forwarded-Proto": "https"}); status != http.StatusUnauthorized {
		t.Fatalf("expected the forwarded request to reach nonce validation, got %d", status)
	}
}

func TestSessionRoutesRequireSessionCookie(t *testing.T) {
	t.Parallel()
	harness := newRouteHarness(t, nil)

	testCases := []struct {
		method string
		path   string
		body   string
	}{
		{method: http.MethodGet, path: "/me"},
		{method: http.MethodPost, path: "/auth/verification"},
		{method: http.MethodPatch, path: "/auth/profile", body: `{"displayName":"X"}`},
	}
	for _, testCase := range testCases {
		recorder, payload := harness.do(t, testCase.method, testCase.path, testCase.body, cookieJar{harness.config.SessionCookieName: "garbage"})
		if recorder.Code != http.StatusUnauthorized || errorText(payload) != auth.MessageNoUserLoggedIn {
			t.Fatalf("%s %s: expected 401, got %d %q", testCase.method, testCase.path, recorder.Code, errorText(payload))
		}
	}
}

func TestUpdateProfileReissuesSessionClaims(t *testing.T) {
	t.Parallel()
	harness := newRouteHarness(t, nil)
	jar := cookieJar{}
	harness.do(t, http.MethodPost, "/auth/signup", signupBody, jar)
	previousSession := jar[harness.config.SessionCookieName]

	recorder, payload := harness.do(t, http.MethodPatch, "/auth/profile", `{}`, jar)
	if recorder.Code != http.StatusBadRequest || errorText(payload) != MessageInvalidRequest {
		t.Fatalf("empty update accepted: %d", recorder.Code)
	}

	recorder, payload = harness.do(t, http.MethodPatch, "/auth/profile", `{"displayName":"Ada Lovelace","photoURL":"https://example.com/ada.png"}`, jar)
	if recorder.Code != http.StatusOK || decodeIdentity(t, payload).DisplayName != "Ada Lovelace" {
		t.Fatalf("profile update failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if jar[harness.config.SessionCookieName] == previousSession {
		t.Fatalf("session cookie was not reissued")
	}

	validator, err := sessionvalidator.New(sessionvalidator.Config{SigningKey: []byte(testSigningKey), Issuer: testIssuer})
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	claims, err := validator.ValidateToken(jar[harness.config.SessionCookieName])
	if err != nil {
		t.Fatalf("reissued token invalid: %v", err)
	}
	if claims.GetUserDisplayName() != "Ada Lovelace" || claims.GetUserPhotoURL() != "https://example.com/ada.png" {
		t.Fatalf("claims not updated: %#v", claims)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	t.Parallel()
	harness := newRouteHarness(t, nil)
	harness.do(t, http.MethodPost, "/auth/signup", signupBody, cookieJar{})

	recorder, payload := harness.do(t, http.MethodPost, "/auth/password-reset", `{"email":"nobody@example.com"}`, nil)
	if recorder.Code != http.StatusBadRequest || errorText(payload) != "No account found with this email" {
		t.Fatalf("expected unknown email failure, got %d %q", recorder.Code, errorText(payload))
	}

	recorder, _ = harness.do(t, http.MethodPost, "/auth/password-reset", `{"email":"ada@example.com"}`, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("reset request failed: %d", recorder.Code)
	}
	code := harness.mailer.lastCode(t, identity.PurposePasswordReset)

	recorder, _ = harness.do(t, http.MethodPost, "/auth/password-reset/confirm", `{"code":"`+code+`","newPassword":"brand-new"}`, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("reset confirm failed: %d %s", recorder.Code, recorder.Body.String())
	}
	recorder, _ = harness.do(t, http.MethodPost, "/auth/login", `{"email":"ada@example.com","password":"brand-new"}`, cookieJar{})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login with new password failed: %d", recorder.Code)
	}
	if harness.metrics.Count(MetricPasswordResetSent) != 1 || harness.metrics.Count(MetricPasswordResetDone) != 1 {
		t.Fatalf("unexpected metrics %v", harness.metrics.Snapshot())
	}
}

func TestLogoutEverywhereRevokesAllRefreshTokens(t *testing.T) {
	t.Parallel()
	harness := newRouteHarness(t, nil)
	harness.do(t, http.MethodPost, "/auth/signup", signupBody, cookieJar{})

	laptop := cookieJar{}
	phone := cookieJar{}
	harness.do(t, http.MethodPost, "/auth/login", `{"email":"ada@example.com","password":"secret1"}`, laptop)
	harness.do(t, http.MethodPost, "/auth/login", `{"email":"ada@example.com","password":"secret1"}`, phone)

	recorder, _ := harness.do(t, http.MethodPost, "/auth/logout?all=true", "", laptop)
	if recorder.Code != http.StatusOK {
		t.Fatalf("logout failed: %d", recorder.Code)
	}
	recorder, _ = harness.do(t, http.MethodPost, "/auth/refresh", "", phone)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("other device refresh should be revoked, got %d", recorder.Code)
	}
}

func TestSessionCookieReadableWithValidatorDefaults(t *testing.T) {
	t.Parallel()
	harness := newRouteHarness(t, func(config *ServerConfig) {
		config.SessionCookieName = ""
		config.RefreshCookieName = ""
	})
	jar := cookieJar{}
	recorder, payload := harness.do(t, http.MethodPost, "/auth/signup", signupBody, jar)
	if recorder.Code != http.StatusOK || !payload.Success {
		t.Fatalf("signup failed: %d %q", recorder.Code, errorText(payload))
	}
	created := decodeIdentity(t, payload)
	if jar[sessionvalidator.DefaultCookieName] == "" || jar[DefaultRefreshCookieName] == "" {
		t.Fatalf("expected default cookie names, got %v", jar)
	}

	validator, err := sessionvalidator.New(sessionvalidator.Config{SigningKey: []byte(testSigningKey), Issuer: testIssuer})
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	for name, value := range jar {
		request.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validator rejected issued session cookie: %v", err)
	}
	if claims.GetUserID() != created.UID {
		t.Fatalf("expected uid %q, got %q", created.UID, claims.GetUserID())
	}

	recorder, _ = harness.do(t, http.MethodGet, "/me", "", jar)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected /me to accept the default session cookie, got %d", recorder.Code)
	}
}
