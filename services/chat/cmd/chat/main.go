package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"webhookchat/internal/usertoken"
	"webhookchat/internal/util"
	"webhookchat/services/chat/internal/config"
	"webhookchat/services/chat/internal/reconciler"
	"webhookchat/services/chat/internal/server"
	"webhookchat/services/chat/internal/webhook"
)

const defaultSessionIdle = 30 * time.Minute

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	webhookTimeout, err := config.ParseDuration("webhookTimeout", cfg.WebhookTimeout)
	if err != nil {
		log.Fatalf("failed to parse webhook timeout: %v", err)
	}
	replyTimeout, err := config.ParseDuration("replyTimeout", cfg.ReplyTimeout)
	if err != nil {
		log.Fatalf("failed to parse reply timeout: %v", err)
	}
	jwtLeeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	sessionIdle, err := config.ParseDuration("sessionIdleTimeout", cfg.SessionIdleTimeout)
	if err != nil {
		log.Fatalf("failed to parse session idle timeout: %v", err)
	}
	if sessionIdle == 0 {
		sessionIdle = defaultSessionIdle
	}

	logger := util.InitLogger(cfg.LogLevel)

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxy cidrs: %v", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:     cfg.AuthJWTSecret,
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	webhooks := webhook.NewClient(webhook.Config{
		RetrieveURL:  cfg.RetrieveChatWebhookURL,
		SaveURL:      cfg.SaveChatWebhookURL,
		DeleteURL:    cfg.DeleteChatWebhookURL,
		ReplyURL:     cfg.ChatResponseWebhookURL,
		SendHistory:  cfg.SendChatHistory,
		Timeout:      webhookTimeout,
		ReplyTimeout: replyTimeout,
	})
	for name, ok := range webhooks.Configured() {
		if !ok {
			logger.Warn("webhook endpoint not configured", "endpoint", name)
		}
	}
	registry := reconciler.NewRegistry(reconciler.Config{Backend: webhooks})

	httpServer, err := server.New(server.Config{
		Registry:               registry,
		TokenVerifier:          tokenVerifier,
		Webhooks:               webhooks,
		RedisAddr:              cfg.RedisAddr,
		RedisPassword:          cfg.RedisPassword,
		SendRateLimitPerMinute: cfg.SendRateLimitPerMinute,
		TrustedProxies:         trusted,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	defer httpServer.Close()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      util.WithRequestID(util.WithRequestLog("chat", trusted, httpServer.Router())),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go registry.RunEviction(ctx, sessionIdle, sessionIdle/4)

	slog.Info("chat server listening", "addr", addr)
	if err := util.Serve(ctx, srv, 10*time.Second); err != nil {
		logger.Error("server error", "err", err)
	}
	// Let in-flight replies land and their saves reach the store of record.
	registry.Wait()
}
