// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools, prompts and resources that depend on
// abstractions. No business logic lives here, only wiring and lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/stagehand/internal/agent"
	"github.com/HendryAvila/stagehand/internal/completion"
	"github.com/HendryAvila/stagehand/internal/config"
	"github.com/HendryAvila/stagehand/internal/contextbuild"
	"github.com/HendryAvila/stagehand/internal/drafts"
	"github.com/HendryAvila/stagehand/internal/identity"
	"github.com/HendryAvila/stagehand/internal/ledger"
	"github.com/HendryAvila/stagehand/internal/metrics"
	"github.com/HendryAvila/stagehand/internal/plan"
	"github.com/HendryAvila/stagehand/internal/prompt"
	"github.com/HendryAvila/stagehand/internal/prompts"
	"github.com/HendryAvila/stagehand/internal/resources"
	"github.com/HendryAvila/stagehand/internal/storage"
	"github.com/HendryAvila/stagehand/internal/tools"
	"github.com/HendryAvila/stagehand/internal/workspace"
)

// Version is set at build time via ldflags.
var Version = "dev"

// App is a wired server ready to run.
type App struct {
	MCP     *server.MCPServer
	Service *agent.Service

	db     *storage.DB
	cfg    *config.Config
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer
}

// Option customizes New.
type Option func(*options)

type options struct {
	client completion.Client
}

// WithCompletionClient replaces the OpenAI-compatible client, e.g. with a
// scripted one in tests.
func WithCompletionClient(c completion.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// OpenDB opens the database with every schema the server needs.
func OpenDB(cfg *config.Config) (*storage.DB, error) {
	scfg := storage.DefaultConfig()
	scfg.DataDir = cfg.DataDir
	return storage.Open(scfg, workspace.Schema, drafts.Schema, ledger.Schema)
}

// New creates and configures the MCP server with all tools, prompts and
// resources registered. This is the single place where all dependencies
// are resolved. The returned cleanup closes the database; it is always
// non-nil.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, func(), error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// --- Create shared dependencies ---

	db, err := OpenDB(cfg)
	if err != nil {
		return nil, noop, fmt.Errorf("opening database: %w", err)
	}
	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", "error", err)
		}
	}

	rules, err := prompt.LoadRules()
	if err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("loading agent rules: %w", err)
	}
	composer, err := prompt.NewComposer(rules, cfg.Agent.Limits, cfg.Agent.MaxContextChars)
	if err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("creating prompt composer: %w", err)
	}

	client := o.client
	if client == nil {
		client = completion.NewOpenAIClient(cfg.Completion, completion.WithLogger(logger.With("component", "completion")))
	}

	temperature := cfg.Completion.Temperature
	svc := agent.New(agent.Deps{
		DB:        db,
		Builder:   contextbuild.New(workspace.NewStore(db.Conn()), cfg.Agent.ContextQuota),
		Composer:  composer,
		Client:    client,
		Validator: plan.NewValidator(cfg.Agent.Limits),
		Logger:    logger.With("component", "agent"),
	}, agent.Config{
		RepairRetries:  cfg.Agent.RepairRetries,
		DraftTTL:       cfg.Agent.DraftTTL,
		LedgerTTL:      cfg.Agent.LedgerTTL,
		DraftRetention: cfg.Agent.DraftRetention,
		Temperature:    &temperature,
		MaxTokens:      cfg.Completion.MaxTokens,
	})

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"stagehand",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	users := resolverFor(cfg)

	// --- Register protocol tools ---

	draftTool := tools.NewDraftTool(svc, users)
	s.AddTool(draftTool.Definition(), draftTool.Handle)

	confirmTool := tools.NewConfirmTool(svc, users)
	s.AddTool(confirmTool.Definition(), confirmTool.Handle)

	applyTool := tools.NewApplyTool(svc, users)
	s.AddTool(applyTool.Definition(), applyTool.Handle)

	rejectTool := tools.NewRejectTool(svc, users)
	s.AddTool(rejectTool.Definition(), rejectTool.Handle)

	statusTool := tools.NewStatusTool(svc, users)
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	// --- Register prompts ---

	requestPrompt := prompts.NewRequestPrompt()
	s.AddPrompt(requestPrompt.Definition(), requestPrompt.Handle)

	pendingPrompt := prompts.NewPendingPrompt()
	s.AddPrompt(pendingPrompt.Definition(), pendingPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(svc, users)
	s.AddResource(resourceHandler.PendingResource(), resourceHandler.HandlePending)

	app := &App{
		MCP:     s,
		Service: svc,
		db:      db,
		cfg:     cfg,
		logger:  logger,
		stdin:   os.Stdin,
		stdout:  os.Stdout,
	}
	return app, cleanup, nil
}

// resolverFor picks the identity source. Over SSE the user comes from the
// request header only; a stdio session acts as the configured user.
func resolverFor(cfg *config.Config) identity.Resolver {
	if cfg.Transport.Type == "sse" {
		return identity.ContextResolver{}
	}
	return identity.StaticResolver{Fallback: cfg.Identity.UserID}
}

// Run serves the configured transport, the sweeper and the metrics
// endpoint until ctx is cancelled, one of them fails or the transport
// returns. A stdio transport returns when the host closes stdin.
func (a *App) Run(ctx context.Context) error {
	var serve func(context.Context) error
	switch a.cfg.Transport.Type {
	case "sse":
		serve = a.serveSSE
	case "stdio":
		serve = a.serveStdio
	default:
		return fmt.Errorf("unknown transport type: %s", a.cfg.Transport.Type)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return serve(ctx)
	})

	g.Go(func() error {
		a.Service.RunSweeper(ctx, a.cfg.Agent.SweepInterval)
		return nil
	})

	if a.cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger.With("component", "metrics"))
		})
	}

	return g.Wait()
}

func (a *App) serveStdio(ctx context.Context) error {
	a.logger.Info("Starting MCP server with 'stdio' transport.")
	stdio := server.NewStdioServer(a.MCP)
	stdio.SetErrorLogger(log.New(os.Stderr, "stdio: ", log.LstdFlags))
	err := stdio.Listen(ctx, a.stdin, a.stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	a.logger.Info("stdio transport closed")
	return nil
}

func (a *App) serveSSE(ctx context.Context) error {
	header := a.cfg.Identity.Header
	sse := server.NewSSEServer(a.MCP,
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if user := r.Header.Get(header); user != "" {
				return identity.WithUser(ctx, user)
			}
			return ctx
		}),
	)

	addr := a.cfg.Transport.Host + ":" + strconv.Itoa(a.cfg.Transport.Port)
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("SSE server listening", "address", addr)
		if err := sse.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down SSE server gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return sse.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("SSE server: %w", err)
		}
		return nil
	}
}

// Seed writes the demo workspace for userID.
func Seed(ctx context.Context, db *storage.DB, userID string) (*workspace.SeedResult, error) {
	var res *workspace.SeedResult
	err := db.InTx(ctx, func(tx storage.Conn) error {
		var err error
		res, err = workspace.Seed(ctx, workspace.NewStore(tx), userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// noop is the cleanup returned when nothing was opened.
func noop() {}
