package main

import (
	"log"
	"net/http"
	"os"

	"paylink-service/internal/api"
	"paylink-service/internal/config"
	"paylink-service/internal/db"
	"paylink-service/internal/email"
	"paylink-service/internal/event"
	"paylink-service/internal/link"
	"paylink-service/internal/logging"
	"paylink-service/internal/metrics"
	"paylink-service/internal/paytrace"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoadConfig("config")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics)

	connStr := db.ConnStr(cfg.Database)
	if err := db.RunMigrations(connStr, "migrations"); err != nil {
		log.Fatal(err)
	}

	pool, err := db.GetPool(connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	repo := db.NewLinkRepository(pool)

	var publisher link.EventPublisher
	if cfg.Kafka.Broker.URL != "" {
		kafkaPublisher := event.NewPublisher(event.NewWriter(cfg.Kafka))
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	links := link.NewService(repo, nil, publisher, logger, link.Config{
		ExpiresInDays: cfg.Link.ExpiresInDays,
		ListLimit:     cfg.Link.ListLimit,
	})

	processor := paytrace.NewClient(nil, paytrace.Config{
		URL:                cfg.PayTrace.URL,
		Username:           os.Getenv("PAYTRACE_USERNAME"),
		Password:           os.Getenv("PAYTRACE_PASSWORD"),
		IntegratorID:       cfg.PayTrace.IntegratorID,
		TimeoutMs:          cfg.PayTrace.TimeoutMs,
		TokenSafetyMarginS: cfg.PayTrace.TokenSafetyMarginS,
	}, logger)

	mailer := email.NewSender(nil, email.Config{
		APIKey:    os.Getenv("SENDGRID_API_KEY"),
		From:      cfg.Email.From,
		AppURL:    cfg.Server.AppURL,
		TimeoutMs: cfg.Email.TimeoutMs,
	}, logger)

	handler := api.NewHandler(links, processor, mailer, logger, cfg.Server.AppURL)

	logger.Info("Starting payment link service", "port", cfg.Server.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Server.Port, handler.Routes()))
}
