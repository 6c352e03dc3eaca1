package main

import (
	"context"
	"embed"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/marcodenti/gymbook/libs/auth"
	"github.com/marcodenti/gymbook/libs/config"
	"github.com/marcodenti/gymbook/libs/httpx"
	otelx "github.com/marcodenti/gymbook/libs/otel"
	"github.com/marcodenti/gymbook/libs/runtime"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/crypto/bcrypt"
)

//go:embed assets/gateway.v1.yaml
var openAPISpec embed.FS

func main() {
	service := config.String("SERVICE_NAME", "gateway-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	mux := runtime.NewBaseMuxWithReady()
	registerRoutes(mux, authConfig{
		jwtSecret: config.String("JWT_SECRET", "dev-secret"),
		jwksURL:   config.String("JWKS_URL", ""),
		jwksTTL:   time.Duration(config.Int("JWKS_CACHE_SECONDS", 300)) * time.Second,
		// bcrypt hash of the legacy integration key; empty disables key auth.
		apiKeyHash: config.String("API_KEY_HASH", ""),
	})

	bodyLimit := int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))
	requestTimeout := time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 10)) * time.Second
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)

	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS"),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,X-Api-Key"),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           time.Duration(config.Int("CORS_MAX_AGE_SECONDS", 600)) * time.Second,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(bodyLimit),
		httpx.WithTimeout(requestTimeout),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "gateway")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

type authConfig struct {
	jwtSecret  string
	jwksURL    string
	jwksTTL    time.Duration
	apiKeyHash string
}

func registerRoutes(mux *http.ServeMux, cfg authConfig) {
	bookingURL := mustParseURL(config.String("BOOKING_URL", "http://booking-service:8083"))

	bookingProxy := httputil.NewSingleHostReverseProxy(bookingURL)
	bookingProxy.Transport = otelhttp.NewTransport(http.DefaultTransport)

	var jwksClient *auth.JWKSClient
	if cfg.jwksURL != "" {
		jwksClient = auth.NewJWKSClient(cfg.jwksURL, cfg.jwksTTL)
	}

	authed := func(next http.Handler) http.Handler {
		return requireAuth(next, cfg, jwksClient)
	}
	staff := func(next http.Handler) http.Handler {
		return authed(requireRole(next, "admin", "staff"))
	}

	// Slot browsing is public; everything that mutates goes through auth.
	// Public routes still scrub identity headers, or an anonymous caller
	// could forge X-Role and read the privileged catalog view.
	registerProxy(mux, "/api/v1/slots/create", staff(bookingProxy))
	registerProxy(mux, "/api/v1/slots/delete", staff(bookingProxy))
	registerProxy(mux, "/api/v1/slots", scrubIdentity(bookingProxy))
	registerProxy(mux, "/api/v1/slot-types", scrubIdentity(bookingProxy))
	registerProxy(mux, "/api/v1/appointments/create", staff(bookingProxy))
	registerProxy(mux, "/api/v1/appointments/confirm", staff(bookingProxy))
	registerProxy(mux, "/api/v1/appointments/reject", staff(bookingProxy))
	registerProxy(mux, "/api/v1/appointments", authed(bookingProxy))

	mux.HandleFunc("/openapi", func(w http.ResponseWriter, _ *http.Request) {
		data, err := openAPISpec.ReadFile("assets/gateway.v1.yaml")
		if err != nil {
			http.Error(w, "openapi not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}

func registerProxy(mux *http.ServeMux, prefix string, handler http.Handler) {
	if !strings.HasSuffix(prefix, "/") {
		mux.Handle(prefix, handler)
		mux.Handle(prefix+"/", handler)
		return
	}
	mux.Handle(prefix, handler)
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// dropIdentityHeaders removes the caller-supplied identity headers. Backends
// trust these, so only the gateway may set them.
func dropIdentityHeaders(r *http.Request) {
	r.Header.Del("X-User-Id")
	r.Header.Del("X-Client-Id")
	r.Header.Del("X-Role")
}

// scrubIdentity guards unauthenticated routes: the backend sees no identity
// at all, whatever the caller sent.
func scrubIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dropIdentityHeaders(r)
		next.ServeHTTP(w, r)
	})
}

// requireAuth accepts either a bearer JWT or the legacy integration key
// (query ?key= or X-Api-Key header, checked against a bcrypt hash). The
// verified identity replaces whatever X-* headers the caller sent.
func requireAuth(next http.Handler, cfg authConfig, jwksClient *auth.JWKSClient) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dropIdentityHeaders(r)

		if cfg.apiKeyHash != "" {
			if key := apiKeyFrom(r); key != "" {
				if bcrypt.CompareHashAndPassword([]byte(cfg.apiKeyHash), []byte(key)) != nil {
					http.Error(w, "invalid api key", http.StatusUnauthorized)
					return
				}
				r.Header.Set("X-User-Id", "api-key")
				r.Header.Set("X-Role", "staff")
				next.ServeHTTP(w, r)
				return
			}
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		var claims *auth.Claims
		var err error

		if jwksClient != nil {
			header, headerErr := auth.ParseHeader(token)
			if headerErr != nil {
				http.Error(w, "invalid token header", http.StatusUnauthorized)
				return
			}
			if header.Alg == "RS256" && header.Kid != "" {
				pub, keyErr := jwksClient.Get(header.Kid)
				if keyErr != nil {
					http.Error(w, "invalid token key", http.StatusUnauthorized)
					return
				}
				claims, err = auth.VerifyRS256(token, pub)
			} else {
				claims, err = auth.ParseAndVerifyHS256(token, cfg.jwtSecret)
			}
		} else {
			claims, err = auth.ParseAndVerifyHS256(token, cfg.jwtSecret)
		}
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		r.Header.Set("X-User-Id", claims.Sub)
		r.Header.Set("X-Client-Id", claims.ClientID)
		r.Header.Set("X-Role", claims.Role)
		next.ServeHTTP(w, r)
	})
}

func apiKeyFrom(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-Api-Key")); key != "" {
		return key
	}
	return strings.TrimSpace(r.URL.Query().Get("key"))
}

func requireRole(next http.Handler, roles ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-Role")
		if _, ok := allowed[role]; !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
