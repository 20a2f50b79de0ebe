package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/lifeddx/steve/backend/internal/config"
	"github.com/lifeddx/steve/backend/internal/handler"
	historyHandler "github.com/lifeddx/steve/backend/internal/handler/history"
	"github.com/lifeddx/steve/backend/internal/middleware"
	"github.com/lifeddx/steve/backend/internal/model/specialist"
	"github.com/lifeddx/steve/backend/internal/service/ai"
	"github.com/lifeddx/steve/backend/internal/service/assistants"
	"github.com/lifeddx/steve/backend/internal/service/auth"
	"github.com/lifeddx/steve/backend/internal/service/conversation"
	"github.com/lifeddx/steve/backend/internal/service/history"
	"github.com/lifeddx/steve/backend/internal/service/session"
)

const (
	sweepInterval  = time.Minute
	limiterIdleTTL = 30 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	registry, err := loadRegistry(cfg.Server.SpecialistsFile)
	if err != nil {
		log.Fatalf("failed to load specialists: %v", err)
	}
	sessions := session.NewManager(registry)

	// Credential store and re-authentication cookie signer
	store, err := auth.LoadFileStore(cfg.Auth.CredentialsFile, auth.WithPreauthorization(cfg.Auth.RequirePreauthorized))
	if err != nil {
		log.Fatalf("failed to load credentials: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(store.Cookie())
	if err != nil {
		log.Fatalf("failed to initialize auth cookie: %v", err)
	}
	gate := auth.NewGate(store, tokens)
	limiter := middleware.NewLoginLimiter(cfg.Auth.LoginRatePerMinute, cfg.Auth.LoginBurst)

	// Hosted assistant service. A missing key degrades the server instead of stopping it.
	var (
		remote    conversation.Remote
		compactor historyHandler.Compactor
	)
	configErr := cfg.Assistants.Validate()
	if configErr != nil {
		log.Printf("warning: %v, chat and history compaction are disabled", configErr)
	} else {
		client, err := assistants.NewClient(assistants.Config{
			APIKey:  cfg.Assistants.APIKey,
			BaseURL: cfg.Assistants.BaseURL,
			Timeout: cfg.Assistants.Timeout,
		})
		if err != nil {
			log.Fatalf("failed to initialize assistants client: %v", err)
		}
		remote = client
		log.Println("Assistants client initialized successfully")

		summarizer, err := newSummarizer(ctx, cfg.Summary, client)
		if err != nil {
			log.Printf("warning: failed to initialize summarizer: %v", err)
			log.Println("continuing without history compaction")
		} else {
			compactor = history.NewCompactor(client, summarizer)
			log.Printf("History compaction enabled (provider=%s)", cfg.Summary.Provider)
		}
	}

	conversations := conversation.NewManager(remote, cfg.Assistants.UserAvatar)

	go sweep(ctx, sessions, limiter, cfg.Session.IdleTimeout)

	router := handler.NewRouter(handler.Dependencies{
		Sessions:       sessions,
		Registry:       registry,
		Gate:           gate,
		Conversations:  conversations,
		Compactor:      compactor,
		LoginLimiter:   limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SessionCookie:  cfg.Session.CookieName,
		SecureCookies:  cfg.Auth.SecureCookies,
		TrustProxy:     cfg.Server.TrustProxy,
		ConfigErr:      configErr,
	})

	startServer(ctx, cfg.Server, router)
}

func loadRegistry(path string) (specialist.Store, error) {
	if path == "" {
		return specialist.NewMemoryStore(specialist.Seed()), nil
	}

	items, err := specialist.LoadFile(path)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded %d specialists from %s", len(items), path)
	return specialist.NewMemoryStore(items), nil
}

// newSummarizer builds the compaction summarizer on the configured chat model.
func newSummarizer(ctx context.Context, cfg config.SummaryConfig, client *assistants.Client) (*ai.Summarizer, error) {
	var (
		chatModel model.BaseChatModel
		err       error
	)

	switch cfg.Provider {
	case config.SummaryProviderArk:
		chatModel, err = cfg.NewArkChatModel(ctx)
	default:
		temperature := cfg.Temperature
		chatModel, err = assistants.NewChatModel(client, cfg.Model, &temperature)
	}
	if err != nil {
		return nil, err
	}

	return ai.NewSummarizer(ctx, chatModel, cfg.Temperature)
}

func sweep(ctx context.Context, sessions *session.Manager, limiter *middleware.LoginLimiter, idle time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := sessions.Expire(now.UTC(), idle); removed > 0 {
				log.Printf("[session] expired %d idle sessions, %d live", removed, sessions.Len())
			}
			limiter.Sweep(limiterIdleTTL)
		}
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Steve backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
