package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"time"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx := context.Background()

	db, err := connectDB(ctx)
	if err != nil {
		logger.Warn("Database unavailable, using in-memory store", "error", err)
	}
	store := NewStore(db)
	if db != nil {
		defer db.Close()
		if err := store.ensureSchema(ctx); err != nil {
			logger.Error("Schema setup failed", "error", err)
			os.Exit(1)
		}
	}
	logger.Info("Store ready", "mode", store.Mode())

	catalog, err := LoadCatalog(cfg.CatalogFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("Catalog file not found, every order will fail variant lookup", "file", cfg.CatalogFile)
	case err != nil:
		logger.Error("Catalog load failed", "error", err)
		os.Exit(1)
	default:
		logger.Info("Catalog loaded", "file", cfg.CatalogFile, "variants", catalog.Len())
	}

	var provider *ProviderClient
	if cfg.ProviderURL != "" {
		shopID := cfg.ProviderShopID
		if shopID == "" && catalog != nil {
			shopID = catalog.ShopID
		}
		provider = NewProviderClient(cfg.ProviderURL, cfg.ProviderToken, shopID, cfg.ProviderTimeout)
		logger.Info("Print provider configured", "url", cfg.ProviderURL, "shop", shopID)
	} else {
		logger.Warn("PROVIDER_API_URL not set, orders stay pending")
	}

	var gemini *GeminiClient
	if cfg.GCPProject != "" {
		gemini, err = NewGeminiClient(ctx, cfg.GCPProject, cfg.GCPRegion, cfg.GCPModel)
		if err != nil {
			logger.Error("Gemini init failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Gemini client ready", "project", cfg.GCPProject)
	} else {
		logger.Info("GCP_PROJECT_ID not set, clue suggestions disabled")
	}

	var mailer *Mailer
	if cfg.SMTPHost != "" {
		mailer, err = NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)
		if err != nil {
			logger.Error("Mailer init failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Mailer ready", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
	} else {
		logger.Info("SMTP_HOST not set, puzzle e-mails disabled")
	}

	if cfg.StorefrontSecret == "" || cfg.ProviderSecret == "" {
		logger.Warn("Webhook secret missing, matching webhooks will be rejected")
	}

	srv := NewServer(Deps{
		Logger:           logger,
		Store:            store,
		Catalog:          catalog,
		Provider:         provider,
		Gemini:           gemini,
		Mailer:           mailer,
		StorefrontSecret: cfg.StorefrontSecret,
		ProviderSecret:   cfg.ProviderSecret,
		MaxBacktracks:    cfg.MaxBacktracks,
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: order event streams stay open.
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	logger.Info("Server listening", "addr", "http://localhost:"+cfg.Port)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
