package main

import (
	"context"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"ReelStudio-server/config"
	"ReelStudio-server/credential"
	"ReelStudio-server/genai"
	"ReelStudio-server/logger"
	"ReelStudio-server/models"
	"ReelStudio-server/orchestrator"
	"ReelStudio-server/routers"
	"ReelStudio-server/routers/api"
	"ReelStudio-server/service"
)

func main() {
	config.InitConfig()
	cfg := config.AppConfig

	l := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.IsDevelopment())
	logger.SetGlobal(l)
	l.Info().Str("port", cfg.Server.Port).Str("env", cfg.Server.Env).Msg("server starting")

	db, err := models.InitDB(cfg.MySQL.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	l.Info().Msg("database initialized")

	creds := credential.NewDBStore(db)
	if err := creds.Seed(context.Background(), cfg.Gemini.APIKey); err != nil {
		log.Fatal().Err(err).Msg("seed credential failed")
	}

	client := genai.NewClient(genai.Options{
		BaseURL:    cfg.Gemini.BaseURL,
		TextModel:  cfg.Gemini.TextModel,
		VideoModel: cfg.Gemini.VideoModel,
		ImageModel: cfg.Gemini.ImageModel,
		HTTPClient: &http.Client{Timeout: cfg.Gemini.RequestTimeout},
		Logger:     &l,
	})
	orch := orchestrator.New(client, creds, orchestrator.Options{
		PollInterval: cfg.Gemini.PollInterval,
		PollTimeout:  cfg.Gemini.PollTimeout,
		Logger:       &l,
	})

	store, err := service.NewMinIOStore(service.MinIOOptions{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
		URLExpiry: cfg.MinIO.URLExpiry,
	}, l)
	if err != nil {
		log.Fatal().Err(err).Msg("minio init failed")
	}
	l.Info().Msg("minio initialized")

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	}
	queue := service.NewQueue(redisOpt, orch.PollTimeout(), l)
	defer queue.Close()
	l.Info().Msg("queue initialized")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := service.NewProgressHub(32)
	cancels := service.NewPollCancelRegistry()
	processor := &service.Processor{
		DB:           db,
		Orchestrator: orch,
		Storage:      store,
		Hub:          hub,
		Cancels:      cancels,
		Metrics:      service.NewMetrics(registry),
		Logger:       l,
	}
	srv := processor.StartProcessor(redisOpt, cfg.Worker.Concurrency)
	defer srv.Shutdown()

	r := routers.InitRouter(&api.Handler{
		DB:          db,
		Credentials: creds,
		Queue:       queue,
		Cancels:     cancels,
		Hub:         hub,
		Logger:      l,
	}, l, registry)
	if err := r.Run(cfg.Server.Port); err != nil {
		log.Fatal().Err(err).Msg("http server stopped")
	}
}
