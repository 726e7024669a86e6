package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/apysky/broadcast-scheduler/internal/bridge"
	"github.com/apysky/broadcast-scheduler/internal/config"
	"github.com/apysky/broadcast-scheduler/internal/dispatch"
	"github.com/apysky/broadcast-scheduler/internal/events"
	"github.com/apysky/broadcast-scheduler/internal/repository"
	"github.com/apysky/broadcast-scheduler/pkg/logger"
	"github.com/apysky/broadcast-scheduler/pkg/pg"
	"github.com/apysky/broadcast-scheduler/pkg/prom"
	"github.com/apysky/broadcast-scheduler/pkg/redis"
	"github.com/apysky/broadcast-scheduler/pkg/worker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewAdapter("default", config.Get().RedisKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	bridgeClient := bridge.NewClient(bridge.Config{
		URL:     config.Get().BridgeURL,
		Timeout: config.Get().BridgeTimeout,
	})

	scheduleRepo := repository.NewScheduleRepository(db)
	locker := dispatch.NewLocker(redisAdap, config.Get().DispatchLockTTL)
	publisher := events.NewPublisher(redisAdap, config.Get().EventStreamName, config.Get().EventStreamMaxLen)

	dispatcher := dispatch.NewDispatcher(scheduleRepo, bridgeClient, locker, publisher, dispatch.NewClock(), dispatch.Config{
		MaxAttempts:  config.Get().DispatchMaxAttempts,
		RetryBackoff: config.Get().DispatchRetryBackoff,
		BatchSize:    config.Get().DispatchBatchSize,
	})

	sessions := config.Get().BridgeSessions
	if sessions < 1 {
		sessions = 1
	}
	pool := worker.NewManager(config.Get().DispatchBatchSize, sessions)
	dispatcher.SetPool(pool)
	go func() {
		if err := pool.Start(); err != nil {
			logger.Info("worker pool stopped", "reason", err)
		}
	}()

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServe(config.Get().AppMetricsAddr, config.Get().AppMetricsURI)
	}()

	runner := dispatch.NewRunner(config.Get().DispatchPollInterval, dispatcher.Tick)
	runner.Start()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill, os.Interrupt, syscall.SIGTERM)

	select {
	case <-c:
		runner.Stop()
		pool.Exit()
		logger.Info("dispatcher stopped", "stats", dispatcher.Stats().Snapshot())
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
