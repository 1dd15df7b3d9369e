package main

import (
	"fmt"

	"github.com/RouteWise/FieldOps/config"
	"github.com/RouteWise/FieldOps/internal/broker/kafka"
	"github.com/RouteWise/FieldOps/internal/cache"
	"github.com/RouteWise/FieldOps/internal/cache/rediscache"
	"github.com/RouteWise/FieldOps/internal/services/syncer"
	"github.com/RouteWise/FieldOps/internal/storage/pgfield"
	"github.com/RouteWise/FieldOps/internal/transport"
	"github.com/RouteWise/FieldOps/internal/transport/fake"
	"github.com/RouteWise/FieldOps/internal/transport/serverhttp"
)

type agentFactories struct {
	newStorage     func(cfg *config.Config) (st agentStorage, closeFn func(), err error)
	newProducer    func(cfg *config.Config) syncer.Producer
	newConsumer    func(cfg *config.Config) assignmentConsumer
	newRateLimiter func(cfg *config.Config) syncer.RateLimiter
	newCache       func(cfg *config.Config) cache.BytesCache
	newTransport   func(cfg *config.Config) transport.Client
}

func defaultAgentFactories() agentFactories {
	return agentFactories{
		newStorage: func(cfg *config.Config) (agentStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgfield.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) syncer.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newConsumer: func(cfg *config.Config) assignmentConsumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			topic := cfg.Kafka.TripAssignedTopicName
			if topic == "" {
				topic = "trip.assigned"
			}
			group := cfg.FieldOps.KafkaConsumerGroup
			if group == "" {
				group = "fieldops-agent"
			}
			return kafka.NewConsumer(brokers, topic, group)
		},
		newRateLimiter: func(cfg *config.Config) syncer.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
		newTransport: func(cfg *config.Config) transport.Client {
			// Для демо без бекенда работаем через fake; исход детерминирован,
			// так что retry/backoff можно наблюдать воспроизводимо.
			if cfg.FieldOps.TransportMode == "http" && cfg.FieldOps.ServerBaseURL != "" {
				return serverhttp.New(cfg.FieldOps.ServerBaseURL, cfg.FieldOps.ServerAPIKey, cfg.FieldOps.DeviceID)
			}
			return fake.New()
		},
	}
}
