package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/dice-lottery-platform-poc/internal/engine/bet"
	"github.com/radieske/dice-lottery-platform-poc/internal/engine/dispatch"
	"github.com/radieske/dice-lottery-platform-poc/internal/engine/pool"
	"github.com/radieske/dice-lottery-platform-poc/internal/ports"
	skafka "github.com/radieske/dice-lottery-platform-poc/internal/shared/kafka"
	"github.com/radieske/dice-lottery-platform-poc/pkg/contracts/events"
)

// Métricas Prometheus do fluxo de fulfillment; registradas no main do
// game-service junto das demais
var (
	FulfillmentsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "game_fulfillments_processed_total",
		Help: "Fulfillments roteados e liquidados com sucesso",
	})
	FulfillmentsDuplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "game_fulfillments_duplicated_total",
		Help: "Fulfillments duplicados/atrasados ignorados (at-most-once)",
	})
	FulfillmentsUnauthorized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "game_fulfillments_unauthorized_total",
		Help: "Fulfillments rejeitados por identidade de oráculo não confiável",
	})
	FulfillmentsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "game_fulfillments_failed_total",
		Help: "Fulfillments cuja liquidação falhou após o consumo da requisição",
	})
)

// Broadcaster publica resultados de liquidação pra fora (Redis pub/sub)
type Broadcaster interface {
	PublishWagerSettled(ctx context.Context, res bet.Result) error
	PublishRoundDrawn(ctx context.Context, res pool.Result) error
}

// Consumer é o loop que consome randomness_fulfilled e entrega ao
// dispatcher. Roda como goroutine dentro do game-service: os engines
// são estado em memória e precisam ser compartilhados com a API HTTP.
type Consumer struct {
	Log        *zap.Logger
	Reader     *kafkago.Reader
	DLQ        *kafkago.Writer // opcional; mensagens envenenadas
	Dispatcher *dispatch.Dispatcher
	Broadcast  Broadcaster // opcional
}

// Run consome até o contexto ser cancelado
func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.Log.Warn("kafka read", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var ful events.RandomnessFulfilled
		if jerr := json.Unmarshal(msg.Value, &ful); jerr != nil {
			c.Log.Error("unmarshal randomness_fulfilled", zap.Error(jerr))
			c.toDLQ(ctx, msg.Key, msg.Value)
			continue
		}

		c.processOne(ctx, &ful, msg.Value)
	}
}

// processOne roteia um fulfillment e faz o broadcast do resultado
func (c *Consumer) processOne(ctx context.Context, ful *events.RandomnessFulfilled, raw []byte) {
	out, err := c.Dispatcher.OnFulfillment(ctx, ful.RequestID, ful.RandomValue, ful.Oracle)
	switch {
	case err == nil:
		FulfillmentsProcessed.Inc()
	case errors.Is(err, dispatch.ErrUnauthorizedCaller):
		FulfillmentsUnauthorized.Inc()
		c.Log.Warn("fulfillment from untrusted caller",
			zap.String("requestId", ful.RequestID),
			zap.String("caller", ful.Oracle))
		return
	case errors.Is(err, dispatch.ErrAlreadyConsumed):
		// entrega duplicada: já liquidado, nada a refazer
		FulfillmentsDuplicated.Inc()
		c.Log.Info("duplicate fulfillment ignored", zap.String("requestId", ful.RequestID))
		return
	case errors.Is(err, dispatch.ErrUnknownRequest):
		FulfillmentsDuplicated.Inc()
		c.Log.Warn("fulfillment for unknown request", zap.String("requestId", ful.RequestID))
		c.toDLQ(ctx, []byte(ful.RequestID), raw)
		return
	default:
		// settle falhou após o consumo; o dispatcher já logou o detalhe
		FulfillmentsFailed.Inc()
		return
	}

	if c.Broadcast == nil {
		return
	}
	switch out.Kind {
	case ports.OwnerWager:
		if perr := c.Broadcast.PublishWagerSettled(ctx, *out.Wager); perr != nil {
			c.Log.Warn("broadcast wager settled", zap.Error(perr))
		}
	case ports.OwnerRound:
		if perr := c.Broadcast.PublishRoundDrawn(ctx, *out.Round); perr != nil {
			c.Log.Warn("broadcast round drawn", zap.Error(perr))
		}
	}
}

func (c *Consumer) toDLQ(ctx context.Context, key, value []byte) {
	if c.DLQ == nil {
		return
	}
	if err := skafka.WriteJSON(ctx, c.DLQ, string(key), value); err != nil {
		c.Log.Error("dlq write", zap.Error(err))
	}
}
