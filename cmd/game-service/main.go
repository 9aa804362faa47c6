package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/dice-lottery-platform-poc/internal/engine/bet"
	"github.com/radieske/dice-lottery-platform-poc/internal/engine/dispatch"
	"github.com/radieske/dice-lottery-platform-poc/internal/engine/pool"
	"github.com/radieske/dice-lottery-platform-poc/internal/game-service/consumer"
	ghttp "github.com/radieske/dice-lottery-platform-poc/internal/game-service/http"
	kpub "github.com/radieske/dice-lottery-platform-poc/internal/game-service/producer"
	"github.com/radieske/dice-lottery-platform-poc/internal/game-service/pubsub"
	grepo "github.com/radieske/dice-lottery-platform-poc/internal/game-service/repo"
	"github.com/radieske/dice-lottery-platform-poc/internal/ledgerclient"
	"github.com/radieske/dice-lottery-platform-poc/internal/shared/cache"
	"github.com/radieske/dice-lottery-platform-poc/internal/shared/config"
	"github.com/radieske/dice-lottery-platform-poc/internal/shared/db"
	skafka "github.com/radieske/dice-lottery-platform-poc/internal/shared/kafka"
	"github.com/radieske/dice-lottery-platform-poc/internal/shared/logger"
	"github.com/radieske/dice-lottery-platform-poc/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("game-service", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("env", cfg.Env))

	// Postgres (trilho de auditoria de wagers/rounds)
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg", zap.Error(err))
	}
	defer pg.Close()

	// Redis (broadcast de liquidações)
	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}

	// Kafka: producer de randomness_requested, consumer de randomness_fulfilled
	reqWriter := skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRandomnessRequested)
	defer reqWriter.Close()

	fulReader := skafka.NewReader(cfg.KafkaBrokers, cfg.TopicRandomnessFulfilled, "game-settlement")
	defer fulReader.Close()

	dlqWriter := skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRandomnessFulfilledDLQ)
	defer dlqWriter.Close()

	// deps do núcleo de liquidação
	ledger := ledgerclient.New(cfg.WalletURL)
	random := kpub.NewKafkaRandomness(reqWriter, cfg.TopicRandomnessRequested)
	audit := grepo.NewPostgres(pg)
	dispatcher := dispatch.NewDispatcher(log, cfg.OracleIdentity)

	betEngine := bet.NewEngine(log, bet.Config{
		Limits: bet.Limits{
			MinStakeCents: cfg.MinStakeCents,
			MaxStakeCents: cfg.MaxStakeCents,
		},
		HouseEdgeBps: cfg.HouseEdgeBps,
	}, ledger, random, dispatcher, audit)

	poolEngine := pool.NewEngine(log, pool.Config{
		EntryPriceCents: cfg.EntryPriceCents,
		EntryCap:        cfg.EntryCap,
		MinEntries:      cfg.MinEntries,
		RoundDuration:   cfg.RoundDuration,
		HouseEdgeBps:    cfg.HouseEdgeBps,
	}, ledger, random, dispatcher, audit)

	dispatcher.Bind(betEngine, poolEngine)

	ctx := context.Background()

	// primeiro round abre na subida; os seguintes encadeiam a cada selagem
	roundID := poolEngine.OpenRound(ctx)
	log.Info("initial round open", zap.Uint64("roundId", roundID))

	// consumer de fulfillments na mesma instância: os engines são estado
	// em memória compartilhado com a API HTTP
	broadcaster := pubsub.NewRedisBroadcaster(rdb, cfg.RedisPubSubChannel)
	cons := &consumer.Consumer{
		Log:        log,
		Reader:     fulReader,
		DLQ:        dlqWriter,
		Dispatcher: dispatcher,
		Broadcast:  broadcaster,
	}
	go cons.Run(ctx)

	prometheus.MustRegister(
		ghttp.WagersPlaced,
		ghttp.EntriesSold,
		consumer.FulfillmentsProcessed,
		consumer.FulfillmentsDuplicated,
		consumer.FulfillmentsUnauthorized,
		consumer.FulfillmentsFailed,
	)

	// HTTP público
	api := ghttp.NewServer(log, betEngine, poolEngine, ledger, cfg.OperatorToken)
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: api.Router(),
	}

	// metrics/health em porta separada
	metrics.StartMetricsServer(cfg.MetricsPort, func(hctx context.Context) error {
		if err := pg.PingContext(hctx); err != nil {
			return err
		}
		return rdb.Ping(hctx).Err()
	})
	log.Info("metrics/health", zap.String("port", cfg.MetricsPort))

	log.Info("game-service listening", zap.String("addr", fmt.Sprintf(":%s", cfg.HTTPPort)))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api", zap.Error(err))
	}
}
