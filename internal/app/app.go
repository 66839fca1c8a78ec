// Package app assembles the application: configuration, tracing, database,
// the genkit model runtime, both retrievers, the chat agent, and the HTTP
// server. Setup wires everything; Close tears it down in reverse.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoptalk/shoptalk/internal/api"
	"github.com/shoptalk/shoptalk/internal/chat"
	"github.com/shoptalk/shoptalk/internal/commerce"
	"github.com/shoptalk/shoptalk/internal/config"
	"github.com/shoptalk/shoptalk/internal/knowledge"
	"github.com/shoptalk/shoptalk/internal/log"
	"github.com/shoptalk/shoptalk/internal/model"
	"github.com/shoptalk/shoptalk/internal/session"
)

// App is the application container. Create with Setup; release with Close.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Pool     *pgxpool.Pool

	Sessions  *session.Store
	Knowledge *knowledge.Store
	Commerce  *commerce.Store
	Model     *model.Handle
	Agent     *chat.Agent
	Server    *api.Server

	otelCleanup func()
}

// Close releases all resources acquired during Setup. Safe to call on a
// partially initialized App.
func (a *App) Close() {
	if a.Server != nil {
		a.Server.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
}
