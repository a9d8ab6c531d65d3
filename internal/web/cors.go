package web

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errWildcardOrigin = errors.New("cors.origin.wildcard")
	errNoOrigins      = errors.New("cors.origin.empty")
	errInvalidOrigin  = errors.New("cors.origin.invalid")
)

// ConfigureCORS allows credentialed cross-origin calls from the listed origins.
// Browser clients send the session cookie, so a wildcard is rejected.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins, err := normalizeOrigins(logger, allowedOrigins)
	if err != nil {
		return nil, err
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}), nil
}

// normalizeOrigins reduces each origin to scheme://host, sorted and deduplicated.
func normalizeOrigins(logger *zap.Logger, allowed []string) ([]string, error) {
	candidates := append([]string(nil), allowed...)
	sort.Strings(candidates)

	seen := make(map[string]struct{}, len(candidates))
	origins := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		origin, err := normalizeOrigin(candidate)
		if err != nil {
			return nil, err
		}
		if origin == nil {
			continue
		}
		normalized := origin.Scheme + "://" + origin.Host
		if _, duplicate := seen[normalized]; duplicate {
			continue
		}
		if origin.Scheme == "http" && !isDevelopmentHost(origin.Hostname()) {
			logger.Warn("plain http origin allowed",
				zap.String("code", "cors.origin.unsafe"),
				zap.String("origin", normalized))
		}
		seen[normalized] = struct{}{}
		origins = append(origins, normalized)
	}
	if len(origins) == 0 {
		return nil, errNoOrigins
	}
	return origins, nil
}

func normalizeOrigin(candidate string) (*url.URL, error) {
	trimmed := strings.TrimSpace(candidate)
	switch trimmed {
	case "":
		return nil, nil
	case "*":
		return nil, errWildcardOrigin
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %s", errInvalidOrigin, trimmed)
	}
	if (parsed.Path != "" && parsed.Path != "/") || parsed.RawQuery != "" || parsed.Fragment != "" {
		return nil, fmt.Errorf("%w: %s must not carry a path, query or fragment", errInvalidOrigin, trimmed)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return nil, fmt.Errorf("%w: %s uses unsupported scheme", errInvalidOrigin, trimmed)
	}
	return parsed, nil
}

func isDevelopmentHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
