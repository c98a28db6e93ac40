package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/joe02740/wmapp/app/billing"
	"github.com/joe02740/wmapp/app/chat"
	"github.com/joe02740/wmapp/app/config"
	"github.com/joe02740/wmapp/app/llm"
	"github.com/joe02740/wmapp/app/quota"
	"github.com/joe02740/wmapp/app/registry"
	"github.com/joe02740/wmapp/app/store"
	"github.com/joe02740/wmapp/auth"
)

// Build opens the store and constructs every component from cfg. The
// returned cleanup closes the store.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Deps, func(), error) {
	s, err := store.Open(ctx, cfg.DB.DSN(), store.WithBusyTimeout(cfg.StoreBusyTimeout()))
	if err != nil {
		return Deps{}, nil, fmt.Errorf("open store: %w", err)
	}
	cleanup := func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}
	log.Info().Str("dialect", string(s.Dialect())).Msg("connected to store")

	if cfg.DB.AutoMigrate {
		if err := store.Migrate(ctx, s, log); err != nil {
			cleanup()
			return Deps{}, nil, fmt.Errorf("migrate: %w", err)
		}
	}

	loc, err := cfg.Quota.Location()
	if err != nil {
		cleanup()
		return Deps{}, nil, err
	}

	gateway, err := billing.NewStripeGateway(cfg.Stripe.SecretKey)
	var gw billing.Gateway
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		log.Warn().Msg("STRIPE_SECRET_KEY is not set; billing endpoints will report upstream_unavailable")
	case err != nil:
		cleanup()
		return Deps{}, nil, err
	default:
		gw = gateway
	}

	docs, err := llm.NewDocumentStore(ctx, cfg.Reference, log)
	if err != nil {
		cleanup()
		return Deps{}, nil, err
	}

	var verifier *auth.Verifier
	if cfg.AuthBypass() {
		log.Warn().Msg("auth disabled via AUTH_DISABLED for local development")
	} else {
		verifier, err = auth.NewVerifierFromConfig(cfg.Auth)
		if err != nil {
			cleanup()
			return Deps{}, nil, err
		}
	}

	return Deps{
		Config:   cfg,
		Log:      log,
		Store:    s,
		Registry: registry.New(s, registry.WithLogger(log)),
		Quota: quota.New(s, quota.TableFromConfig(cfg.Quota),
			quota.WithLocation(loc),
			quota.WithFailOpen(cfg.Quota.FailOpen),
			quota.WithLogger(log),
		),
		Billing:   billing.New(s, gw, cfg.Stripe, billing.WithLogger(log)),
		Chats:     chat.New(s, chat.WithLogger(log)),
		LLM:       llm.NewClient(cfg.LLM, log),
		Documents: docs,
		Verifier:  verifier,
	}, cleanup, nil
}
