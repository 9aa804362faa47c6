package main

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/dice-lottery-platform-poc/internal/shared/config"
	skafka "github.com/radieske/dice-lottery-platform-poc/internal/shared/kafka"
	"github.com/radieske/dice-lottery-platform-poc/internal/shared/logger"
	"github.com/radieske/dice-lottery-platform-poc/internal/shared/metrics"
	ev "github.com/radieske/dice-lottery-platform-poc/pkg/contracts/events"
)

// Oráculo simulado: consome randomness_requested e responde cada
// requisição com exatamente um fulfillment assinado com sua identidade.
// Redelivery pode acontecer (at-least-once do Kafka); o dispatcher do
// game-service tolera duplicatas.

var (
	fulfillmentsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oracle_fulfillments_sent_total",
		Help: "Fulfillments publicados pelo oráculo",
	})
	requestsBad = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oracle_requests_bad_total",
		Help: "Requisições que não puderam ser decodificadas",
	})
)

func main() {
	cfg := config.Load()
	log, err := logger.New("oracle-simulator", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	prometheus.MustRegister(fulfillmentsSent, requestsBad)

	reader := skafka.NewReader(cfg.KafkaBrokers, cfg.TopicRandomnessRequested, "oracle-simulator")
	defer reader.Close()

	writer := skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRandomnessFulfilled)
	defer writer.Close()

	// Métricas e health check (o oráculo não expõe API pública)
	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return nil
	})

	log.Info("oracle-simulator started",
		zap.String("consume", cfg.TopicRandomnessRequested),
		zap.String("publish", cfg.TopicRandomnessFulfilled),
		zap.String("identity", cfg.OracleIdentity),
	)

	ctx := context.Background()

	// Loop principal: cada requisição gera um único fulfillment
	for {
		_, raw, err := skafka.ReadNext(ctx, reader)
		if err != nil {
			log.Warn("kafka read", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var req ev.RandomnessRequested
		if jerr := json.Unmarshal(raw, &req); jerr != nil {
			requestsBad.Inc()
			log.Error("unmarshal randomness_requested", zap.Error(jerr))
			continue
		}

		value, err := randomUint64()
		if err != nil {
			log.Error("crypto rand", zap.Error(err))
			time.Sleep(500 * time.Millisecond)
			continue
		}

		ful := ev.RandomnessFulfilled{
			RequestID:   req.RequestID,
			RandomValue: value,
			Oracle:      cfg.OracleIdentity,
			TsUnixMs:    time.Now().UnixMilli(),
		}
		payload, _ := json.Marshal(ful)
		if werr := skafka.WriteJSON(ctx, writer, req.RequestID, payload); werr != nil {
			log.Error("publish fulfillment", zap.String("requestId", req.RequestID), zap.Error(werr))
			// Backoff simples para evitar flood em caso de erro
			time.Sleep(500 * time.Millisecond)
			continue
		}

		fulfillmentsSent.Inc()
		log.Debug("fulfillment sent",
			zap.String("requestId", req.RequestID),
			zap.String("ownerKind", req.OwnerKind),
			zap.Uint64("ownerId", req.OwnerID),
		)
	}
}

// randomUint64 tira 8 bytes do CSPRNG do sistema
func randomUint64() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
