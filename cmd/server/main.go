package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"

	"github.com/franckalain/snapnourish/internal/config"
	"github.com/franckalain/snapnourish/internal/database"
	"github.com/franckalain/snapnourish/internal/events"
	"github.com/franckalain/snapnourish/internal/logging"
	"github.com/franckalain/snapnourish/internal/metrics"
	"github.com/franckalain/snapnourish/internal/ml"
	"github.com/franckalain/snapnourish/internal/parser"
	"github.com/franckalain/snapnourish/internal/pipeline"
	"github.com/franckalain/snapnourish/internal/server"
	"github.com/franckalain/snapnourish/internal/signer"
	"github.com/franckalain/snapnourish/internal/storageurl"
)

const persistTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	if err := logging.Setup(cfg.Log); err != nil {
		log.WithError(err).Fatal("failed to set up logging")
	}
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	// Initialize signed URL issuer
	issuer, closeIssuer, err := signer.New(ctx, cfg.Signer)
	if err != nil {
		log.WithError(err).Fatal("failed to create signer")
	}
	defer closeIssuer()

	// Initialize ML service
	model, err := ml.NewModel(cfg.ML)
	if err != nil {
		log.WithError(err).Fatal("failed to create ML model")
	}
	if err := model.Load(ctx); err != nil {
		log.WithError(err).Fatal("failed to load ML model")
	}
	defer model.Close()

	resolver := storageurl.New(cfg.Storage.ProviderHost, cfg.Storage.ProviderBucket, cfg.Storage.GenericHosts...)
	orchestrator := pipeline.New(resolver, issuer, model, parser.New(), db, pipeline.Timeouts{
		Credential: cfg.Signer.Timeout.Duration,
		Model:      cfg.ML.Timeout.Duration,
		Persist:    persistTimeout,
	})
	dispatcher := events.NewDispatcher(orchestrator, cfg.Storage.GenericHosts...)

	if cfg.Events.AMQP.URL != "" {
		sub, err := events.NewSubscriber(cfg.Events.AMQP.URL, cfg.Events.AMQP.Queue, cfg.Events.AMQP.Prefetch)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to upload queue")
		}
		defer sub.Close()

		sub.Start(ctx, func(ctx context.Context, body []byte) error {
			_, err := dispatcher.Dispatch(ctx, "amqp", body)
			return err
		})
	}

	log.WithFields(log.Fields{
		"model":    cfg.ML.Type,
		"database": cfg.Database.Type,
		"signer":   cfg.Signer.Type,
	}).Info("snapnourish ready")

	// Initialize and start server
	srv := server.New(orchestrator, db, dispatcher, cfg.Server.AllowedOrigins, cfg.Server.Debug)
	if err := srv.Start(ctx, cfg.Server.Port); err != nil {
		log.WithError(err).Error("server stopped")
	}
}
