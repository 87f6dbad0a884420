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

	"github.com/joho/godotenv"

	"github.com/loandesk/backend/internal/bootstrap"
	"github.com/loandesk/backend/internal/config"
	"github.com/loandesk/backend/internal/handler"
	"github.com/loandesk/backend/internal/service/document"
	"github.com/loandesk/backend/internal/service/session"
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

	store, err := bootstrap.OpenStore(cfg.Session)
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	defer store.Close()
	session.StartTTLWorker(ctx, store, cfg.Session.SweepInterval)

	registry, err := bootstrap.Registry(ctx, cfg)
	if err != nil {
		log.Printf("warning: failed to initialize AI service: %v", err)
		log.Println("continuing without AI functionality - 请检查 Ark 模型相关环境变量")
	}

	documents, err := document.NewStore(cfg.Upload.Dir, cfg.Upload.MaxBytes)
	if err != nil {
		log.Fatalf("failed to prepare upload dir: %v", err)
	}

	dispatcher, err := bootstrap.NewDispatcher(cfg, store, registry, documents)
	if err != nil {
		log.Fatalf("failed to build loan workflow: %v", err)
	}

	router := handler.NewRouter(cfg.Server, dispatcher, documents)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("loan desk backend listening on %s", addr)
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
