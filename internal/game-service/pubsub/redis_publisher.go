package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/dice-lottery-platform-poc/internal/engine/bet"
	"github.com/radieske/dice-lottery-platform-poc/internal/engine/pool"
	"github.com/radieske/dice-lottery-platform-poc/pkg/contracts/events"
)

// RedisBroadcaster publica os resultados de liquidação num canal
// Redis pub/sub pra consumo de front-ends/painéis.
type RedisBroadcaster struct {
	r       *redis.Client
	channel string
}

func NewRedisBroadcaster(r *redis.Client, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{r: r, channel: channel}
}

func (b *RedisBroadcaster) PublishWagerSettled(ctx context.Context, res bet.Result) error {
	msg := events.WagerSettled{
		WagerID:     res.WagerID,
		UserID:      res.Bettor,
		Outcome:     res.Outcome,
		Win:         res.Win,
		PayoutCents: res.PayoutCents,
		Ts:          time.Now(),
	}
	payload, _ := json.Marshal(msg)
	return b.r.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBroadcaster) PublishRoundDrawn(ctx context.Context, res pool.Result) error {
	msg := events.RoundDrawn{
		RoundID:       res.RoundID,
		WinningIndex:  res.WinningIndex,
		Winner:        res.Winner,
		PrizeCents:    res.PrizeCents,
		HouseCutCents: res.HouseCutCents,
		Ts:            time.Now(),
	}
	payload, _ := json.Marshal(msg)
	return b.r.Publish(ctx, b.channel, payload).Err()
}
