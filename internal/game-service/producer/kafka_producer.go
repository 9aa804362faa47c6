package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/radieske/dice-lottery-platform-poc/internal/ports"
	"github.com/radieske/dice-lottery-platform-poc/pkg/contracts/events"
)

// KafkaRandomness implementa ports.Randomness publicando a requisição
// no tópico randomness_requested. O requestID é cunhado aqui (uuid) e
// viaja com o evento até o oráculo devolver o fulfillment.
type KafkaRandomness struct {
	Writer *kafka.Writer
	Topic  string
}

func NewKafkaRandomness(w *kafka.Writer, topic string) *KafkaRandomness {
	return &KafkaRandomness{Writer: w, Topic: topic}
}

func (p *KafkaRandomness) Request(ctx context.Context, tag ports.Tag) (string, error) {
	requestID := uuid.NewString()

	e := events.RandomnessRequested{
		RequestID: requestID,
		OwnerKind: string(tag.Kind),
		OwnerID:   tag.OwnerID,
		TsUnixMs:  time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(e)

	err := p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(requestID),
		Value: b,
	})
	if err != nil {
		return "", err
	}
	return requestID, nil
}
