// Package mcpserver exposes lore activation, prompt preview and chat
// summaries as MCP tools.
package mcpserver

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/miounet11/mySillyTavern-sub001/internal/generate"
	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/store"
	"github.com/miounet11/mySillyTavern-sub001/internal/worldinfo"
)

// Store is the read-only subset of store.Store the tools use.
type Store interface {
	ListLore(ctx context.Context, characterID string) ([]store.LoreRecord, error)
	ListSummaries(ctx context.Context, chatID string) ([]model.ChatSummary, error)
}

// Previewer is satisfied by *generate.Orchestrator.
type Previewer interface {
	Preview(ctx context.Context, chatID, content string) (*generate.Prepared, error)
}

// Options carries the activation settings used by activate_lore.
type Options struct {
	Budget     model.ContextBudget
	Activation worldinfo.Options
}

type Server struct {
	db      Store
	preview Previewer
	engine  *worldinfo.Engine
	opts    Options
	log     *zap.Logger
	mcp     *sdk.Server
}

func NewServer(db Store, preview Previewer, engine *worldinfo.Engine, opts Options, version string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if engine == nil {
		engine = worldinfo.NewEngine(nil, log)
	}
	s := &Server{
		db:      db,
		preview: preview,
		engine:  engine,
		opts:    opts,
		log:     log.Named("mcp"),
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "tavern",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	s.log.Info("mcp server starting")
	return s.mcp.Run(ctx, transport)
}
