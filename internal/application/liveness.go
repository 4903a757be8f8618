package application

import (
	"context"
	"fmt"
	"time"

	"shopify-embedded-auth/internal/domain"
	"shopify-embedded-auth/internal/infrastructure/metrics"
	"shopify-embedded-auth/internal/ports"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Defaults for the liveness cache: one confirmation per (shop, token) pair per
// hour, across at most a thousand shops before old entries are evicted.
const (
	DefaultLivenessCacheSize = 1000
	DefaultLivenessCacheTTL  = time.Hour
)

// TokenLivenessVerifier confirms that a session's access token is still
// accepted by Shopify, short-circuiting repeat confirmations through a
// bounded, time-expiring cache. Absence from the cache means "unknown", never
// "invalid": a rejected token is returned as an error and not cached.
type TokenLivenessVerifier struct {
	identity ports.IdentityClient
	cache    *expirable.LRU[string, bool]
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	group    singleflight.Group
}

// NewTokenLivenessVerifier creates a verifier with the default cache bounds.
func NewTokenLivenessVerifier(identity ports.IdentityClient, logger zerolog.Logger, m *metrics.Metrics) *TokenLivenessVerifier {
	return NewTokenLivenessVerifierWithCache(identity, logger, m, DefaultLivenessCacheSize, DefaultLivenessCacheTTL)
}

// NewTokenLivenessVerifierWithCache creates a verifier with explicit cache
// capacity and entry time-to-live.
func NewTokenLivenessVerifierWithCache(
	identity ports.IdentityClient,
	logger zerolog.Logger,
	m *metrics.Metrics,
	size int,
	ttl time.Duration,
) *TokenLivenessVerifier {
	return &TokenLivenessVerifier{
		identity: identity,
		cache:    expirable.NewLRU[string, bool](size, nil, ttl),
		logger:   logger,
		metrics:  m,
	}
}

// Verify confirms the session's access token against Shopify. A 401/403 from
// Shopify is returned as *domain.HTTPResponseError so the caller can fall
// through to re-authorization; any other failure propagates unchanged.
// Concurrent misses for the same (shop, token) pair share one upstream call.
func (v *TokenLivenessVerifier) Verify(ctx context.Context, session *domain.Session) error {
	key := session.Shop + ":" + session.AccessToken
	if _, ok := v.cache.Get(key); ok {
		v.metrics.LivenessChecks.WithLabelValues("cached").Inc()
		return nil
	}

	_, err, _ := v.group.Do(key, func() (interface{}, error) {
		// A flight that settled between the outer check and joining the group
		// has already filled the cache.
		if _, ok := v.cache.Get(key); ok {
			v.metrics.LivenessChecks.WithLabelValues("cached").Inc()
			return nil, nil
		}

		if err := v.identity.VerifyAccessToken(ctx, session.Shop, session.AccessToken); err != nil {
			if domain.IsAuthenticationError(err) {
				v.metrics.LivenessChecks.WithLabelValues("rejected").Inc()
				v.logger.Warn().Str("shop", session.Shop).Msg("Access token rejected by Shopify")
			} else {
				v.metrics.LivenessChecks.WithLabelValues("error").Inc()
			}
			return nil, fmt.Errorf("access token verification failed: %w", err)
		}

		v.cache.Add(key, true)
		v.metrics.LivenessChecks.WithLabelValues("valid").Inc()
		return nil, nil
	})
	return err
}
