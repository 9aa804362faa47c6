package bet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/dice-lottery-platform-poc/internal/fixedpoint"
	"github.com/radieske/dice-lottery-platform-poc/internal/ports"
)

// Engine de apostas de dado único ("dice"): o apostador escolhe um
// palpite 1..100, vence se o resultado sorteado for <= palpite, e o
// pagamento bruto é stake * 100 / palpite menos a margem da casa.

var (
	ErrStakeOutOfRange   = errors.New("stake out of range")
	ErrInvalidPrediction = errors.New("invalid prediction")
	ErrWagerNotFound     = errors.New("wager not found")
	ErrAlreadySettled    = errors.New("wager already settled")
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSettled Status = "SETTLED"
)

// Wager é uma aposta individual. Registro append-only: nunca é removido,
// e só o callback de liquidação muda seu estado (Pending -> Settled, uma vez).
type Wager struct {
	ID          uint64
	Bettor      string
	StakeCents  int64
	Prediction  int // 1..100
	Outcome     int // 0 enquanto Pending; 1..100 após liquidar
	Status      Status
	PayoutCents int64
	RequestID   string
	CreatedAt   time.Time
}

// Limits delimita o stake aceito no momento da criação da aposta.
// Mudanças posteriores não têm efeito retroativo sobre apostas existentes.
type Limits struct {
	MinStakeCents int64
	MaxStakeCents int64
}

type Config struct {
	Limits
	HouseEdgeBps int64
}

// Store é o trilho de auditoria (Postgres). Erros de escrita são logados
// e não bloqueiam a liquidação: o engine em memória é a fonte de verdade.
type Store interface {
	WagerPlaced(ctx context.Context, w *Wager) error
	WagerSettled(ctx context.Context, w *Wager) error
}

// Result é o desfecho de uma liquidação
type Result struct {
	WagerID     uint64
	Bettor      string
	Outcome     int
	Win         bool
	PayoutCents int64
}

// Engine serializa toda mutação com um único mutex: a matemática de
// pagamento assume que nenhuma outra operação muda o estado entre
// leitura e escrita.
type Engine struct {
	mu  sync.Mutex
	log *zap.Logger
	cfg Config

	ledger   ports.Ledger
	random   ports.Randomness
	registry ports.RequestRegistry
	store    Store

	now func() time.Time

	seq      uint64 // sequência de ids própria do engine
	wagers   map[uint64]*Wager
	byBettor map[string][]uint64

	houseAccruedCents int64
}

func NewEngine(log *zap.Logger, cfg Config, ledger ports.Ledger, random ports.Randomness, registry ports.RequestRegistry, store Store) *Engine {
	return &Engine{
		log:      log,
		cfg:      cfg,
		ledger:   ledger,
		random:   random,
		registry: registry,
		store:    store,
		now:      time.Now,
		wagers:   make(map[uint64]*Wager),
		byBettor: make(map[string][]uint64),
	}
}

// PlaceWager valida, debita o stake e cria a aposta Pending com uma
// requisição de aleatoriedade registrada. Se o débito falhar, a aposta
// nunca chega a existir.
func (e *Engine) PlaceWager(ctx context.Context, bettor string, stakeCents int64, prediction int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if stakeCents < e.cfg.MinStakeCents || stakeCents > e.cfg.MaxStakeCents {
		return 0, ErrStakeOutOfRange
	}
	if prediction < 1 || prediction > 100 {
		return 0, ErrInvalidPrediction
	}

	// A sequência avança antes de qualquer efeito colateral: um id nunca
	// é reutilizado, então cada tentativa debita com um ref inédito.
	// A wallet deduplica por ref; reusar o ref de uma tentativa abortada
	// transformaria o débito da retentativa num no-op silencioso.
	e.seq++
	id := e.seq
	ref := fmt.Sprintf("wager:%d", id)

	if err := e.ledger.Debit(ctx, bettor, stakeCents, ref); err != nil {
		return 0, fmt.Errorf("debit stake: %w", err)
	}

	reqID, err := e.random.Request(ctx, ports.Tag{Kind: ports.OwnerWager, OwnerID: id})
	if err != nil {
		// estorna o débito: sem requestID a aposta nunca seria liquidada
		if cerr := e.ledger.Credit(ctx, bettor, stakeCents, "rollback:"+ref); cerr != nil {
			e.log.Error("rollback credit failed after randomness error",
				zap.Uint64("wagerId", id), zap.Error(cerr))
		}
		return 0, fmt.Errorf("randomness request: %w", err)
	}

	w := &Wager{
		ID:         id,
		Bettor:     bettor,
		StakeCents: stakeCents,
		Prediction: prediction,
		Status:     StatusPending,
		RequestID:  reqID,
		CreatedAt:  e.now(),
	}
	e.wagers[id] = w
	e.byBettor[bettor] = append(e.byBettor[bettor], id)
	e.registry.Register(reqID, ports.OwnerWager, id)

	if e.store != nil {
		if serr := e.store.WagerPlaced(ctx, w); serr != nil {
			e.log.Warn("audit store wager placed", zap.Uint64("wagerId", id), zap.Error(serr))
		}
	}

	return id, nil
}

// Settle liquida uma aposta com o valor aleatório entregue pelo oráculo.
// Só deve ser invocado pelo dispatcher; a guarda de status garante
// exatamente uma liquidação mesmo sob entrega duplicada.
//
// outcome = (randomValue mod 100) + 1, uniforme em [1,100]. O viés de
// módulo de uma fonte de 64+ bits sobre 100 faces é desprezível e aceito.
func (e *Engine) Settle(ctx context.Context, wagerID uint64, randomValue uint64) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.wagers[wagerID]
	if !ok {
		return Result{}, ErrWagerNotFound
	}
	if w.Status != StatusPending {
		return Result{}, ErrAlreadySettled
	}

	outcome := int(randomValue%100) + 1
	win := outcome <= w.Prediction

	var payout int64
	if win {
		gross, err := fixedpoint.Proportion(w.StakeCents, 100, int64(w.Prediction))
		if err != nil {
			return Result{}, fmt.Errorf("gross payout: %w", err)
		}
		payout, err = fixedpoint.ApplyHouseEdge(gross, e.cfg.HouseEdgeBps)
		if err != nil {
			return Result{}, fmt.Errorf("apply house edge: %w", err)
		}

		ref := fmt.Sprintf("wager:%d:payout", w.ID)
		if cerr := e.creditPayout(ctx, w.Bettor, payout, ref); cerr != nil {
			// Política preservada do contrato original: o caminho do callback
			// do oráculo não reverte. A aposta liquida com payout zero e o
			// buraco fica visível só por este log (lacuna de justiça conhecida).
			e.log.Error("payout credit failed, settling with zero payout",
				zap.Uint64("wagerId", w.ID),
				zap.String("bettor", w.Bettor),
				zap.Int64("payoutCents", payout),
				zap.Error(cerr))
			payout = 0
		}
	}

	w.Outcome = outcome
	w.Status = StatusSettled
	w.PayoutCents = payout
	e.houseAccruedCents += w.StakeCents - payout

	if e.store != nil {
		if serr := e.store.WagerSettled(ctx, w); serr != nil {
			e.log.Warn("audit store wager settled", zap.Uint64("wagerId", w.ID), zap.Error(serr))
		}
	}

	return Result{
		WagerID:     w.ID,
		Bettor:      w.Bettor,
		Outcome:     outcome,
		Win:         win,
		PayoutCents: payout,
	}, nil
}

// creditPayout paga o prêmio; payout zero (edge de 100%) não gera transferência
func (e *Engine) creditPayout(ctx context.Context, bettor string, payout int64, ref string) error {
	if payout == 0 {
		return nil
	}
	return e.ledger.Credit(ctx, bettor, payout, ref)
}

// Wager retorna uma cópia da aposta (superfície de consulta, sem efeitos)
func (e *Engine) Wager(id uint64) (Wager, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.wagers[id]
	if !ok {
		return Wager{}, ErrWagerNotFound
	}
	return *w, nil
}

// WagerIDsByBettor lista os ids de apostas de um apostador
func (e *Engine) WagerIDsByBettor(bettor string) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := e.byBettor[bettor]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// SetLimits atualiza os limites de stake para apostas futuras
func (e *Engine) SetLimits(minCents, maxCents int64) error {
	if minCents <= 0 || maxCents < minCents {
		return ErrStakeOutOfRange
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.MinStakeCents = minCents
	e.cfg.MaxStakeCents = maxCents
	return nil
}

func (e *Engine) Limits() Limits {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Limits
}

// DrainHouseAccrual zera e retorna o acumulado da casa (saque administrativo)
func (e *Engine) DrainHouseAccrual() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.houseAccruedCents
	e.houseAccruedCents = 0
	return v
}

// RestoreHouseAccrual devolve um valor drenado quando o crédito do saque falha
func (e *Engine) RestoreHouseAccrual(v int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.houseAccruedCents += v
}

func (e *Engine) HouseAccruedCents() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.houseAccruedCents
}
