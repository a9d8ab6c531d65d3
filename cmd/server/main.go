package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/tbase/internal/authkit"
	"github.com/tyemirov/tbase/internal/database"
	"github.com/tyemirov/tbase/internal/docstore"
	"github.com/tyemirov/tbase/internal/identity"
	"github.com/tyemirov/tbase/internal/web"
	"github.com/tyemirov/tbase/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleTokenValidator = func(ctx context.Context) (identity.GoogleTokenValidator, error) {
	return identity.NewGoogleTokenValidator(ctx)
}

var openFirestoreBackend = func(ctx context.Context, projectID string, options ...option.ClientOption) (docstore.Backend, io.Closer, error) {
	backend, err := docstore.NewFirestoreBackend(ctx, projectID, options...)
	if err != nil {
		return nil, nil, err
	}
	return backend, backend, nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "tbase",
		Short:   "Account sign-in, JWT sessions, and per-user document storage behind a JSON API",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	flags := rootCmd.Flags()
	flags.String("listen_addr", ":8080", "HTTP listen address")
	flags.String("cookie_domain", "", "Cookie domain; empty for host-only")
	flags.String("google_web_client_id", "", "Google Web OAuth Client ID; empty disables Google sign-in")
	flags.String("jwt_signing_key", "", "HS256 signing secret for session JWTs")
	flags.Duration("session_ttl", 15*time.Minute, "Session token TTL")
	flags.Duration("refresh_ttl", 60*24*time.Hour, "Refresh token TTL")
	flags.Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	flags.String("database_url", "", "Database URL (postgres:// or sqlite:); empty uses an in-memory sqlite database and refresh store")
	flags.Bool("enable_cors", false, "Enable CORS for cross-origin clients (sets SameSite=None cookies)")
	flags.StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	flags.Duration("nonce_ttl", 5*time.Minute, "Nonce lifetime for Google Sign-In exchanges")
	flags.String("document_backend", documentBackendDatabase, "Document backend: memory, database, or firestore")
	flags.String("firestore_project_id", "", "Google Cloud project for the firestore document backend")
	flags.String("firestore_credentials_file", "", "Service account JSON for Firestore; empty uses application default credentials")
	flags.Duration("action_code_ttl", time.Hour, "Lifetime of password reset and email verification codes")
	flags.String("app_base_url", "http://localhost:8080", "Base URL used in password reset and verification links")

	for _, key := range configKeys {
		_ = viper.BindPFlag(key, flags.Lookup(key))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

var configKeys = []string{
	"listen_addr",
	"cookie_domain",
	"google_web_client_id",
	"jwt_signing_key",
	"session_ttl",
	"refresh_ttl",
	"dev_insecure_http",
	"database_url",
	"enable_cors",
	"cors_allowed_origins",
	"nonce_ttl",
	"document_backend",
	"firestore_project_id",
	"firestore_credentials_file",
	"action_code_ttl",
	"app_base_url",
}

const (
	jwtIssuer = "tbase"

	documentBackendMemory    = "memory"
	documentBackendDatabase  = "database"
	documentBackendFirestore = "firestore"

	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeInvalidDocumentBackend  = "config.invalid_document_backend"
	configCodeMissingFirestoreProject = "config.missing_firestore_project_id"
	configCodeMissingCORSOrigins      = "config.missing_cors_allowed_origins"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeGoogleValidatorInit     = "config.google_validator_init"
)

// Config is the process configuration assembled from flags and APP_* variables.
type Config struct {
	Server                   authkit.ServerConfig
	ListenAddr               string
	DatabaseURL              string
	DocumentBackend          string
	FirestoreProjectID       string
	FirestoreCredentialsFile string
	EnableCORS               bool
	CORSAllowedOrigins       []string
	ActionCodeTTL            time.Duration
	AppBaseURL               string
}

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadConfig reads and validates the configuration held by viper.
func LoadConfig() (Config, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return Config{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return Config{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return Config{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	nonceTTL := 5 * time.Minute
	if configuredNonceTTL := viper.GetDuration("nonce_ttl"); configuredNonceTTL > 0 {
		nonceTTL = configuredNonceTTL
	}

	documentBackend := strings.ToLower(strings.TrimSpace(viper.GetString("document_backend")))
	if documentBackend == "" {
		documentBackend = documentBackendDatabase
	}
	switch documentBackend {
	case documentBackendMemory, documentBackendDatabase:
	case documentBackendFirestore:
		if strings.TrimSpace(viper.GetString("firestore_project_id")) == "" {
			return Config{}, configError(configCodeMissingFirestoreProject, "firestore_project_id must be provided for the firestore document backend")
		}
	default:
		return Config{}, configError(configCodeInvalidDocumentBackend, fmt.Sprintf("document_backend %q must be memory, database, or firestore", documentBackend))
	}

	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	if enableCORS && len(corsAllowedOrigins) == 0 {
		return Config{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}

	sameSite := http.SameSiteStrictMode
	if enableCORS {
		sameSite = http.SameSiteNoneMode
	}

	return Config{
		Server: authkit.ServerConfig{
			GoogleWebClientID: strings.TrimSpace(viper.GetString("google_web_client_id")),
			AppJWTSigningKey:  []byte(jwtSigningKey),
			AppJWTIssuer:      jwtIssuer,
			CookieDomain:      viper.GetString("cookie_domain"),
			SessionCookieName: sessionvalidator.DefaultCookieName,
			RefreshCookieName: authkit.DefaultRefreshCookieName,
			SessionTTL:        sessionTTL,
			RefreshTTL:        refreshTTL,
			NonceTTL:          nonceTTL,
			SameSiteMode:      sameSite,
			AllowInsecureHTTP: viper.GetBool("dev_insecure_http"),
		},
		ListenAddr:               viper.GetString("listen_addr"),
		DatabaseURL:              strings.TrimSpace(viper.GetString("database_url")),
		DocumentBackend:          documentBackend,
		FirestoreProjectID:       strings.TrimSpace(viper.GetString("firestore_project_id")),
		FirestoreCredentialsFile: strings.TrimSpace(viper.GetString("firestore_credentials_file")),
		EnableCORS:               enableCORS,
		CORSAllowedOrigins:       corsAllowedOrigins,
		ActionCodeTTL:            viper.GetDuration("action_code_ttl"),
		AppBaseURL:               viper.GetString("app_base_url"),
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	config, ok := contextValue.(Config)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if config.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, config.CORSAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	services, closeServices, err := buildServices(commandContext, config, logger)
	if err != nil {
		return err
	}
	defer closeServices()

	if err := authkit.MountAuthRoutes(router, config.Server, services); err != nil {
		return err
	}
	if err := web.MountAPIRoutes(router, config.Server, services); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              config.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.String("code", "server.shutdown.failed"), zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", config.ListenAddr), zap.String("document_backend", config.DocumentBackend))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

// buildServices opens the database and the document backend and assembles the
// collaborators shared by the auth and API routes. The returned function
// releases every opened resource.
func buildServices(ctx context.Context, config Config, logger *zap.Logger) (authkit.Services, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var closers []io.Closer
	closeAll := func() {
		for index := len(closers) - 1; index >= 0; index-- {
			_ = closers[index].Close()
		}
	}

	databaseURL := config.DatabaseURL
	if databaseURL == "" {
		databaseURL = database.InMemoryURL
	}
	handle, err := database.Open(ctx, databaseURL)
	if err != nil {
		return authkit.Services{}, nil, err
	}
	closers = append(closers, handle)

	var google identity.GoogleTokenValidator
	if config.Server.GoogleWebClientID != "" {
		google, err = buildGoogleTokenValidator(ctx)
		if err != nil {
			closeAll()
			return authkit.Services{}, nil, fmt.Errorf("%s: %w", configCodeGoogleValidatorInit, err)
		}
	} else {
		logger.Info("google sign-in disabled", zap.String("code", "config.google_sign_in_disabled"))
	}

	identityBackend, err := identity.NewDatabaseBackend(ctx, handle, identity.DatabaseConfig{
		GoogleClientID: config.Server.GoogleWebClientID,
		AppBaseURL:     config.AppBaseURL,
		ActionCodeTTL:  config.ActionCodeTTL,
	}, identity.NewLogMailer(logger), google, logger)
	if err != nil {
		closeAll()
		return authkit.Services{}, nil, err
	}

	documentBackend, documentCloser, err := openDocumentBackend(ctx, config, handle)
	if err != nil {
		closeAll()
		return authkit.Services{}, nil, err
	}
	if documentCloser != nil {
		closers = append(closers, documentCloser)
	}

	var refreshStore authkit.RefreshTokenStore
	if config.DatabaseURL != "" {
		persistentStore, storeErr := authkit.NewDatabaseRefreshTokenStore(ctx, handle)
		if storeErr != nil {
			closeAll()
			return authkit.Services{}, nil, storeErr
		}
		refreshStore = persistentStore
		logger.Info("using persistent refresh token store", zap.String("driver", persistentStore.Driver()))
	} else {
		refreshStore = authkit.NewMemoryRefreshTokenStore()
		logger.Info("using in-memory refresh token store")
	}

	services := authkit.Services{
		Identity:      identityBackend,
		Documents:     docstore.NewStore(documentBackend, logger),
		RefreshTokens: refreshStore,
		Nonces:        authkit.NewMemoryNonceStore(config.Server.NonceTTL),
		Metrics:       authkit.NewCounterMetrics(),
		Clock:         authkit.NewSystemClock(),
		Logger:        logger,
	}
	return services, closeAll, nil
}

func openDocumentBackend(ctx context.Context, config Config, handle *database.Handle) (docstore.Backend, io.Closer, error) {
	switch config.DocumentBackend {
	case documentBackendMemory:
		return docstore.NewMemoryBackend(), nil, nil
	case documentBackendFirestore:
		var options []option.ClientOption
		if config.FirestoreCredentialsFile != "" {
			options = append(options, option.WithCredentialsFile(config.FirestoreCredentialsFile))
		}
		return openFirestoreBackend(ctx, config.FirestoreProjectID, options...)
	default:
		backend, err := docstore.NewDatabaseBackend(ctx, handle)
		if err != nil {
			return nil, nil, err
		}
		return backend, nil, nil
	}
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}
