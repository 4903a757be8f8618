package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"shopify-embedded-auth/internal/application"
	"shopify-embedded-auth/internal/domain"
	authmiddleware "shopify-embedded-auth/internal/infrastructure/middleware"
	"shopify-embedded-auth/internal/infrastructure/metrics"
	"shopify-embedded-auth/internal/infrastructure/repository"
	shopifyinfra "shopify-embedded-auth/internal/infrastructure/shopify"
	"shopify-embedded-auth/internal/ports"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("⚠️  Warning: .env file not found")
	}

	apiKey := os.Getenv("SHOPIFY_API_KEY")
	apiSecret := os.Getenv("SHOPIFY_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		logger.Fatal().Msg("SHOPIFY_API_KEY and SHOPIFY_API_SECRET environment variables are required")
	}

	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "http://localhost:8080"
	}

	scopes := os.Getenv("SHOPIFY_SCOPES")
	if scopes == "" {
		scopes = "read_products"
	}

	authPath := os.Getenv("AUTH_PATH")
	if authPath == "" {
		authPath = "/auth"
	}

	accessMode := domain.AccessMode(os.Getenv("ACCESS_MODE"))
	if accessMode == "" {
		accessMode = domain.AccessModeOnline
	}

	// Initialize session repository
	sessionRepo, cleanup, err := buildSessionRepository(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize session store")
	}
	defer cleanup()

	// Initialize Shopify identity client
	identity := shopifyinfra.NewClient(shopifyinfra.Config{
		APIKey:      apiKey,
		APISecret:   apiSecret,
		RedirectURL: appURL + authPath + "/callback",
		Scopes:      strings.Split(scopes, ","),
	}, logger)

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	authMetrics := metrics.New(registry)

	// Initialize application services
	sessionSvc := application.NewSessionService(identity, sessionRepo, accessMode, []byte(apiSecret), logger)
	exchanger := application.NewTokenExchangeService(identity, sessionRepo, logger, authMetrics)
	liveness := application.NewTokenLivenessVerifier(identity, logger, authMetrics)

	oauth, err := authmiddleware.NewOAuth(identity, sessionRepo, logger, authMetrics, apiKey, apiSecret, authmiddleware.OAuthOptions{
		AccessMode: accessMode,
		AuthPath:   authPath,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize OAuth middleware")
	}

	verifier, err := authmiddleware.NewVerifier(sessionSvc, exchanger, liveness, logger, authmiddleware.VerifyOptions{
		AccessMode:   accessMode,
		AuthRoute:    authPath,
		ReturnHeader: os.Getenv("RETURN_HEADER") == "true",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize verification middleware")
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// OAuth routes
	authHandler := oauth.Middleware()(http.NotFoundHandler())
	r.Handle(authPath, authHandler)
	r.Handle(authPath+"/inline", authHandler)
	r.Handle(authPath+"/callback", authHandler)

	// Routes requiring a verified session
	r.Group(func(r chi.Router) {
		r.Use(verifier.Middleware())

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			session := domain.SessionFromContext(r.Context())
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, "<html><body><h1>Authenticated as %s</h1></body></html>", session.Shop)
		})

		r.Get("/api/me", func(w http.ResponseWriter, r *http.Request) {
			session := domain.SessionFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]interface{}{
				"shop":        session.Shop,
				"access_mode": session.AccessMode,
				"scope":       session.Scope,
				"expires":     session.Expires,
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logger.Info().Str("port", port).Str("authPath", authPath).Msg("Starting API server")
	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}
}

// buildSessionRepository picks the session store from SESSION_STORE:
// "mongo", "redis", or in-memory by default.
func buildSessionRepository(logger zerolog.Logger) (ports.SessionRepository, func(), error) {
	switch os.Getenv("SESSION_STORE") {
	case "mongo":
		mongoURI := os.Getenv("MONGODB_URI")
		if mongoURI == "" {
			mongoURI = "mongodb://localhost:27017"
		}
		client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(mongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		dbName := os.Getenv("MONGODB_DATABASE")
		if dbName == "" {
			dbName = "shopify_app"
		}
		cleanup := func() { client.Disconnect(context.Background()) }
		logger.Info().Str("database", dbName).Msg("Using MongoDB session store")
		return repository.NewMongoSessionRepository(client.Database(dbName)), cleanup, nil

	case "redis":
		addr := os.Getenv("REDIS_ADDR")
		if addr == "" {
			addr = "localhost:6379"
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		cleanup := func() { client.Close() }
		logger.Info().Str("addr", addr).Msg("Using Redis session store")
		return repository.NewRedisSessionRepository(client, ""), cleanup, nil

	default:
		logger.Warn().Msg("Using in-memory session store; sessions will not survive restarts")
		return repository.NewMemorySessionRepository(), func() {}, nil
	}
}
