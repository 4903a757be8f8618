package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopify-embedded-auth/internal/domain"
	"shopify-embedded-auth/internal/infrastructure/metrics"
	"shopify-embedded-auth/internal/ports"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultExchangeTimeout bounds how long a single token exchange may take
// before it fails with domain.ErrExchangeTimeout.
const DefaultExchangeTimeout = 10 * time.Second

// TokenExchangeService turns a short-lived signed session token into a durable
// access-token session. Concurrent requests with identical inputs share one
// in-flight exchange; the flight is registered before it settles and removed
// once it does, so a later identical request starts a fresh exchange.
type TokenExchangeService struct {
	identity ports.IdentityClient
	sessions ports.SessionRepository
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
	group    singleflight.Group
	now      func() time.Time
}

// NewTokenExchangeService creates a token exchange service with the default
// 10 second timeout.
func NewTokenExchangeService(
	identity ports.IdentityClient,
	sessions ports.SessionRepository,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *TokenExchangeService {
	return NewTokenExchangeServiceWithTimeout(identity, sessions, logger, m, DefaultExchangeTimeout)
}

// NewTokenExchangeServiceWithTimeout creates a token exchange service with an
// explicit timeout, for tests that need a short one.
func NewTokenExchangeServiceWithTimeout(
	identity ports.IdentityClient,
	sessions ports.SessionRepository,
	logger zerolog.Logger,
	m *metrics.Metrics,
	timeout time.Duration,
) *TokenExchangeService {
	return &TokenExchangeService{
		identity: identity,
		sessions: sessions,
		logger:   logger,
		metrics:  m,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Exchange swaps the encoded session token for an active session of the given
// mode. When save is true the session is persisted before it is returned.
// Two concurrent calls differing only in save must not share a result, so the
// flag is part of the deduplication key.
func (s *TokenExchangeService) Exchange(
	ctx context.Context,
	shop string,
	encodedToken string,
	mode domain.AccessMode,
	save bool,
) (*domain.Session, error) {
	key := fmt.Sprintf("%s:%s:%s:%t", shop, mode, encodedToken, save)

	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.exchange(ctx, shop, encodedToken, mode, save)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Session), nil
}

func (s *TokenExchangeService) exchange(
	ctx context.Context,
	shop string,
	encodedToken string,
	mode domain.AccessMode,
	save bool,
) (*domain.Session, error) {
	normalized, ok := domain.SanitizeShopDomain(shop)
	if !ok {
		s.metrics.TokenExchanges.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("cannot exchange token for invalid shop domain %q", shop)
	}

	// The flight may be shared by several requests, so it must not die with
	// the first caller. Detach from the request context and bound the call
	// with the exchange timeout instead.
	exchangeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	resp, err := s.identity.ExchangeSessionToken(exchangeCtx, normalized, encodedToken, mode)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.metrics.TokenExchanges.WithLabelValues("timeout").Inc()
			s.logger.Warn().Str("shop", normalized).Msg("Token exchange timed out")
			return nil, domain.ErrExchangeTimeout
		}
		s.metrics.TokenExchanges.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	session := domain.NewSessionFromAccessToken(resp, normalized, "", s.now())
	if !session.IsActive(s.now()) {
		s.metrics.TokenExchanges.WithLabelValues("inactive").Inc()
		s.logger.Warn().Str("shop", normalized).Msg("Token exchange produced an inactive session")
		return nil, domain.ErrSessionInactive
	}

	if save {
		// The first caller may already be gone; the save belongs to the shared
		// flight, so it runs on the detached context too.
		if err := s.sessions.Save(exchangeCtx, session); err != nil {
			s.metrics.TokenExchanges.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to save exchanged session: %w", err)
		}
	}

	s.metrics.TokenExchanges.WithLabelValues("success").Inc()
	s.logger.Debug().
		Str("shop", normalized).
		Str("accessMode", string(mode)).
		Bool("saved", save).
		Msg("Token exchange succeeded")
	return session, nil
}
