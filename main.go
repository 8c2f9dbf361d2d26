package main

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Lugzan151892/gradiorai-backend/internal/achievements"
	"github.com/Lugzan151892/gradiorai-backend/internal/api"
	"github.com/Lugzan151892/gradiorai-backend/internal/auth"
	"github.com/Lugzan151892/gradiorai-backend/internal/broadcast"
	"github.com/Lugzan151892/gradiorai-backend/internal/config"
	"github.com/Lugzan151892/gradiorai-backend/internal/extractor"
	"github.com/Lugzan151892/gradiorai-backend/internal/gpt"
	"github.com/Lugzan151892/gradiorai-backend/internal/interview"
	"github.com/Lugzan151892/gradiorai-backend/internal/logger"
	"github.com/Lugzan151892/gradiorai-backend/internal/rating"
	redisclient "github.com/Lugzan151892/gradiorai-backend/internal/redis"
	"github.com/Lugzan151892/gradiorai-backend/internal/storage"
)

func main() {
	cfgPath := os.Getenv("GRADIORAI_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := storage.Open(cfg.Database)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db, cfg.Database.Driver); err != nil {
		log.Fatal("migrate database", zap.Error(err))
	}

	var rdb *redisclient.Client
	if cfg.Redis.Enabled {
		rdb, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Fatal("connect redis", zap.Error(err))
		}
		defer rdb.Close()
	} else {
		log.Info("redis disabled, anonymous generation limit falls back to cookies only")
	}

	hub := broadcast.NewHub(log)
	defer hub.Close()

	authSvc := auth.NewService(db, 24*time.Hour)
	interviews := interview.NewService(db)
	ratings := rating.NewService(db)
	achievementsSvc := achievements.NewService(db)
	settings := gpt.NewSettingsStore(db)
	generator := gpt.NewEinoGenerator(cfg.Providers)
	gptSvc := gpt.NewService(generator, interviews, settings, ratings, achievementsSvc, hub, log)

	generateTTL := time.Duration(cfg.Generate.AnonymousTTLHours) * time.Hour
	handler := api.NewHandler(authSvc, interviews, gptSvc, ratings, hub,
		extractor.NewPlainText(), rdb, log, generateTTL)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterRoutes(router)

	log.Info("server starting", zap.String("address", cfg.Server.Address))
	if err := router.Run(cfg.Server.Address); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
