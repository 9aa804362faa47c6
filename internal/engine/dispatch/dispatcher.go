package dispatch

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/radieske/dice-lottery-platform-poc/internal/engine/bet"
	"github.com/radieske/dice-lottery-platform-poc/internal/engine/pool"
	"github.com/radieske/dice-lottery-platform-poc/internal/ports"
)

// Dispatcher roteia fulfillments do oráculo para o engine dono da
// requisição. É a única porta de entrada para mutação de liquidação:
// checa a identidade do oráculo antes de qualquer leitura de estado e
// garante no máximo um processamento por requestID mesmo sob entrega
// duplicada.

var (
	ErrUnauthorizedCaller = errors.New("unauthorized caller")
	ErrUnknownRequest     = errors.New("unknown request")
	ErrAlreadyConsumed    = errors.New("request already consumed")
)

// pendingRequest liga um requestID ao seu dono. consumed vira true
// exatamente uma vez.
type pendingRequest struct {
	kind     ports.OwnerKind
	ownerID  uint64
	consumed bool
}

// WagerSettler e RoundSettler são as visões do dispatcher sobre os engines
type WagerSettler interface {
	Settle(ctx context.Context, wagerID uint64, randomValue uint64) (bet.Result, error)
}

type RoundSettler interface {
	Settle(ctx context.Context, roundID uint64, randomValue uint64) (pool.Result, error)
}

// Outcome é o resultado de um fulfillment roteado; exatamente um dos
// ponteiros vem preenchido, conforme o dono da requisição.
type Outcome struct {
	Kind    ports.OwnerKind
	OwnerID uint64
	Wager   *bet.Result
	Round   *pool.Result
}

type Dispatcher struct {
	mu  sync.Mutex
	log *zap.Logger

	trustedOracle string
	pending       map[string]*pendingRequest

	wagers WagerSettler
	rounds RoundSettler
}

func NewDispatcher(log *zap.Logger, trustedOracle string) *Dispatcher {
	return &Dispatcher{
		log:           log,
		trustedOracle: trustedOracle,
		pending:       make(map[string]*pendingRequest),
	}
}

// Bind conecta os engines depois da construção (dispatcher e engines
// referenciam um ao outro; o bind quebra o ciclo de inicialização)
func (d *Dispatcher) Bind(wagers WagerSettler, rounds RoundSettler) {
	d.wagers = wagers
	d.rounds = rounds
}

// Register registra uma requisição pendente emitida por um engine
func (d *Dispatcher) Register(requestID string, kind ports.OwnerKind, ownerID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[requestID] = &pendingRequest{kind: kind, ownerID: ownerID}
}

// OnFulfillment processa um fulfillment do oráculo.
//
// Ordem das guardas, nesta ordem e antes de qualquer efeito:
//  1. identidade do chamador (única fronteira de autorização);
//  2. requisição conhecida;
//  3. ainda não consumida.
//
// consumed vira true ANTES do settle do engine: um settle reentrante ou
// que falhe não pode ser reprocessado pra pagar duas vezes.
func (d *Dispatcher) OnFulfillment(ctx context.Context, requestID string, randomValue uint64, caller string) (Outcome, error) {
	if caller != d.trustedOracle {
		return Outcome{}, ErrUnauthorizedCaller
	}

	d.mu.Lock()
	req, ok := d.pending[requestID]
	if !ok {
		d.mu.Unlock()
		return Outcome{}, ErrUnknownRequest
	}
	if req.consumed {
		d.mu.Unlock()
		return Outcome{}, ErrAlreadyConsumed
	}
	req.consumed = true
	d.mu.Unlock()

	out := Outcome{Kind: req.kind, OwnerID: req.ownerID}

	switch req.kind {
	case ports.OwnerWager:
		res, err := d.wagers.Settle(ctx, req.ownerID, randomValue)
		if err != nil {
			d.log.Error("wager settle failed after consume",
				zap.String("requestId", requestID),
				zap.Uint64("wagerId", req.ownerID),
				zap.Error(err))
			return Outcome{}, err
		}
		out.Wager = &res
	case ports.OwnerRound:
		res, err := d.rounds.Settle(ctx, req.ownerID, randomValue)
		if err != nil {
			d.log.Error("round settle failed after consume",
				zap.String("requestId", requestID),
				zap.Uint64("roundId", req.ownerID),
				zap.Error(err))
			return Outcome{}, err
		}
		out.Round = &res
	default:
		return Outcome{}, ErrUnknownRequest
	}

	return out, nil
}

// PendingCount expõe o tamanho do registro pra métricas/health
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.pending {
		if !r.consumed {
			n++
		}
	}
	return n
}
