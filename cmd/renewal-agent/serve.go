package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"renewal-agent/handler"
	"renewal-agent/internal/contract"
	"renewal-agent/internal/integrations/openai"
	"renewal-agent/internal/pool"
	"renewal-agent/internal/store"
	"renewal-agent/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP chat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// ---- Configuration (read only here) ----
	apiKey := mustEnv(log, "OPENAI_API_KEY")
	dbPath := envStr("DB_PATH", "chatbot.db")
	listenAddr := envStr("LISTEN_ADDR", "127.0.0.1:8080")
	baseURL := os.Getenv("OPENAI_BASE_URL")
	contractsFile := os.Getenv("CONTRACTS_FILE")
	workers := envInt("WORKER_POOL_SIZE", 2)
	queueSize := envInt("WORKER_QUEUE_SIZE", 8)
	oracleTimeout := time.Duration(envInt("ORACLE_TIMEOUT_SECONDS", 30)) * time.Second

	cfg := usecase.Config{
		ChatModel:      os.Getenv("CHAT_MODEL"),
		EmbeddingModel: os.Getenv("EMBEDDING_MODEL"),
		TopK:           envInt("TOP_K", 0),
		ContextTurns:   envInt("CONTEXT_TURNS", 0),
		OracleTimeout:  oracleTimeout,
	}

	contracts := contract.Default()
	if contractsFile != "" {
		loaded, err := contract.LoadFile(contractsFile)
		if err != nil {
			return err
		}
		contracts = loaded
	}

	// ---- Clients ----
	var opts []openai.Option
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	oracle, err := openai.NewClient(apiKey, opts...)
	if err != nil {
		return err
	}

	turnStore, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer turnStore.Close()
	if err := turnStore.Migrate(ctx); err != nil {
		return err
	}

	taskPool := pool.New(workers, queueSize)
	defer taskPool.Close()

	// ---- Services ----
	chatService, err := usecase.NewChatService(oracle, turnStore, taskPool, contracts, log, cfg)
	if err != nil {
		return err
	}
	feedbackService, err := usecase.NewFeedbackService(turnStore, log)
	if err != nil {
		return err
	}

	h, err := handler.New(chatService, feedbackService, log)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	h.Register(engine)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", listenAddr, "db", dbPath)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-stop:
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func mustEnv(log *slog.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
