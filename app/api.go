// Package app wires shared HTTP routes for both local and Lambda execution.
package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/joe02740/wmapp/app/billing"
	"github.com/joe02740/wmapp/app/chat"
	"github.com/joe02740/wmapp/app/config"
	"github.com/joe02740/wmapp/app/llm"
	"github.com/joe02740/wmapp/app/quota"
	"github.com/joe02740/wmapp/app/registry"
	"github.com/joe02740/wmapp/auth"
)

// Answerer is the language model collaborator.
type Answerer interface {
	Ask(ctx context.Context, q llm.Question) (llm.Answer, error)
}

// DocumentLoader supplies the reference documents for a query.
type DocumentLoader interface {
	Load(ctx context.Context) llm.Documents
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components handlers need. They are built once at process
// start by Build, or by hand in tests.
type Deps struct {
	Config    *config.Config
	Log       zerolog.Logger
	Store     Pinger
	Registry  *registry.Registry
	Quota     *quota.Engine
	Billing   *billing.Service
	Chats     *chat.Service
	LLM       Answerer
	Documents DocumentLoader
	Verifier  *auth.Verifier
}

// API holds the HTTP handlers.
type API struct {
	cfg       *config.Config
	log       zerolog.Logger
	store     Pinger
	registry  *registry.Registry
	quota     *quota.Engine
	billing   *billing.Service
	chats     *chat.Service
	llm       Answerer
	documents DocumentLoader
}

func NewAPI(d Deps) *API {
	return &API{
		cfg:       d.Config,
		log:       d.Log,
		store:     d.Store,
		registry:  d.Registry,
		quota:     d.Quota,
		billing:   d.Billing,
		chats:     d.Chats,
		llm:       d.LLM,
		documents: d.Documents,
	}
}
