package rds

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cmoscardi/textbook-tts/config"
	"github.com/cmoscardi/textbook-tts/pkg/logger"

	"github.com/go-redis/redis/v8"
)

var Client *redis.Client

func init() {
	Client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Cfg.Redis.Host, config.Cfg.Redis.Port),
		Password: config.Cfg.Redis.Password,
	})

	err := Client.Ping(context.Background()).Err()
	if err != nil {
		log.Fatalf("failed to ping redis client, error: %v", err)
	}
}

func Close() {
	err := Client.Close()
	if err != nil {
		logger.Logger.Error("Error closing redis client", "error", err.Error())
	}
}

func LogStats() {
	for {
		time.Sleep(time.Minute * 1)
		logger.Logger.Info("redis client pool stats", "stats", Client.PoolStats())
	}
}
