package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/tbase/internal/docstore"
	"github.com/tyemirov/tbase/internal/identity"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

func TestZapLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(zapLoggerMiddleware(zaptest.NewLogger(t)))
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
}

func TestRunServerMissingConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	err := runServer(&cobra.Command{}, nil)
	expectedMessage := "config.uninitialized_server_config: server configuration not prepared; PreRunE must execute before RunE"
	if err == nil || err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %v", expectedMessage, err)
	}
}

func setBaseConfig() {
	viper.Set("listen_addr", ":0")
	viper.Set("jwt_signing_key", "signing-secret")
	viper.Set("session_ttl", time.Minute)
	viper.Set("refresh_ttl", time.Hour)
}

func TestLoadConfigValidation(t *testing.T) {
	testCases := []struct {
		name            string
		configure       func()
		expectedMessage string
	}{
		{
			name: "missing signing key",
			configure: func() {
				viper.Set("session_ttl", time.Minute)
				viper.Set("refresh_ttl", time.Hour)
			},
			expectedMessage: "config.missing_jwt_signing_key: jwt_signing_key must be provided",
		},
		{
			name: "non-positive session ttl",
			configure: func() {
				setBaseConfig()
				viper.Set("session_ttl", 0)
			},
			expectedMessage: "config.invalid_session_ttl: session_ttl must be greater than zero",
		},
		{
			name: "non-positive refresh ttl",
			configure: func() {
				setBaseConfig()
				viper.Set("refresh_ttl", -time.Second)
			},
			expectedMessage: "config.invalid_refresh_ttl: refresh_ttl must be greater than zero",
		},
		{
			name: "unknown document backend",
			configure: func() {
				setBaseConfig()
				viper.Set("document_backend", "dynamo")
			},
			expectedMessage: `config.invalid_document_backend: document_backend "dynamo" must be memory, database, or firestore`,
		},
		{
			name: "firestore without project",
			configure: func() {
				setBaseConfig()
				viper.Set("document_backend", "firestore")
			},
			expectedMessage: "config.missing_firestore_project_id: firestore_project_id must be provided for the firestore document backend",
		},
		{
			name: "cors without origins",
			configure: func() {
				setBaseConfig()
				viper.Set("enable_cors", true)
			},
			expectedMessage: "config.missing_cors_allowed_origins: cors_allowed_origins must be provided when enable_cors is true",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			testCase.configure()

			_, err := LoadConfig()
			if err == nil || err.Error() != testCase.expectedMessage {
				t.Fatalf("expected error %q, got %v", testCase.expectedMessage, err)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	setBaseConfig()
	viper.Set("enable_cors", true)
	viper.Set("cors_allowed_origins", []string{"https://app.example.com"})
	viper.Set("document_backend", " Memory ")

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if config.DocumentBackend != documentBackendMemory {
		t.Fatalf("expected memory backend, got %q", config.DocumentBackend)
	}
	if config.Server.SameSiteMode != http.SameSiteNoneMode {
		t.Fatalf("expected SameSite=None with CORS, got %v", config.Server.SameSiteMode)
	}
	if config.Server.NonceTTL != 5*time.Minute || config.Server.AppJWTIssuer != jwtIssuer {
		t.Fatalf("unexpected server defaults %+v", config.Server)
	}
	if config.Server.GoogleWebClientID != "" {
		t.Fatalf("expected google sign-in to be optional")
	}
}

func TestRunServerValidatorInitFailure(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		t.Fatalf("server must not start when the validator fails")
		return nil
	})
	defer restoreServe()

	restoreValidator := withGoogleValidatorBuilderStub(func(ctx context.Context) (identity.GoogleTokenValidator, error) {
		return nil, errors.New("validator_fail")
	})
	defer restoreValidator()

	setBaseConfig()
	viper.Set("google_web_client_id", "client")

	if err := runServer(commandWithConfig(t), nil); err == nil || err.Error() != "config.google_validator_init: validator_fail" {
		t.Fatalf("expected google validator init error, got %v", err)
	}
}

func TestRunServerServesRoutes(t *testing.T) {
	testCases := []struct {
		name      string
		configure func()
	}{
		{
			name: "database documents with persistent refresh tokens",
			configure: func() {
				viper.Set("google_web_client_id", "client")
				viper.Set("database_url", "sqlite:file:run_server_routes?mode=memory&cache=shared")
				viper.Set("enable_cors", true)
				viper.Set("cors_allowed_origins", []string{"http://localhost:3000"})
			},
		},
		{
			name: "memory documents without google",
			configure: func() {
				viper.Set("document_backend", "memory")
				viper.Set("dev_insecure_http", true)
			},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			setBaseConfig()
			testCase.configure()

			restoreServe := withServeHTTPStub(func(server *http.Server) error {
				recorder := httptest.NewRecorder()
				server.Handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth/nonce", nil))
				if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), `"nonce"`) {
					t.Fatalf("expected nonce route to respond, got %d %s", recorder.Code, recorder.Body.String())
				}
				recorder = httptest.NewRecorder()
				server.Handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/profile", nil))
				if recorder.Code != http.StatusUnauthorized {
					t.Fatalf("expected api routes to require a session, got %d", recorder.Code)
				}
				return http.ErrServerClosed
			})
			defer restoreServe()

			restoreValidator := withGoogleValidatorBuilderStub(func(ctx context.Context) (identity.GoogleTokenValidator, error) {
				return noopGoogleValidator{}, nil
			})
			defer restoreValidator()

			if err := runServer(commandWithConfig(t), nil); err != nil {
				t.Fatalf("expected runServer to succeed, got %v", err)
			}
		})
	}
}

func TestOpenDocumentBackendFirestoreOptions(t *testing.T) {
	var (
		capturedProject string
		capturedOptions int
	)
	previous := openFirestoreBackend
	openFirestoreBackend = func(ctx context.Context, projectID string, options ...option.ClientOption) (docstore.Backend, io.Closer, error) {
		capturedProject = projectID
		capturedOptions = len(options)
		return docstore.NewMemoryBackend(), nil, nil
	}
	defer func() { openFirestoreBackend = previous }()

	backend, _, err := openDocumentBackend(context.Background(), Config{
		DocumentBackend:          documentBackendFirestore,
		FirestoreProjectID:       "demo-project",
		FirestoreCredentialsFile: "/secrets/firestore.json",
	}, nil)
	if err != nil || backend == nil {
		t.Fatalf("open firestore backend: %v", err)
	}
	if capturedProject != "demo-project" || capturedOptions != 1 {
		t.Fatalf("unexpected firestore arguments: project=%q options=%d", capturedProject, capturedOptions)
	}
}

func TestBuildServicesDisablesGoogleWithoutClientID(t *testing.T) {
	restoreValidator := withGoogleValidatorBuilderStub(func(ctx context.Context) (identity.GoogleTokenValidator, error) {
		t.Fatalf("validator must not be built without a client id")
		return nil, nil
	})
	defer restoreValidator()

	services, closeServices, err := buildServices(context.Background(), Config{
		DocumentBackend: documentBackendMemory,
		DatabaseURL:     "sqlite:file:build_services_no_google?mode=memory&cache=shared",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("build services: %v", err)
	}
	defer closeServices()

	_, err = services.Identity.SignInWithGoogle(context.Background(), "token", "nonce")
	if identity.CodeOf(err) != identity.CodeOperationNotAllowed {
		t.Fatalf("expected google sign-in to be disabled, got %v", err)
	}
}

func TestNewRootCommandHelp(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected help execution to succeed: %v", err)
	}
}

func commandWithConfig(t *testing.T) *cobra.Command {
	t.Helper()
	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), serverConfigContextKey, config))
	return command
}

func withServeHTTPStub(stub func(server *http.Server) error) func() {
	previous := serveHTTP
	serveHTTP = stub
	return func() {
		serveHTTP = previous
	}
}

type noopGoogleValidator struct{}

func (noopGoogleValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	return &idtoken.Payload{}, nil
}

func withGoogleValidatorBuilderStub(stub func(ctx context.Context) (identity.GoogleTokenValidator, error)) func() {
	previous := buildGoogleTokenValidator
	buildGoogleTokenValidator = stub
	return func() {
		buildGoogleTokenValidator = previous
	}
}
