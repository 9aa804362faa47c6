package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/dice-lottery-platform-poc/internal/fixedpoint"
	"github.com/radieske/dice-lottery-platform-poc/internal/ports"
)

// Engine de loteria ("lottery"): participantes compram bilhetes de um
// round aberto; quando o round fecha, um único sorteio escolhe o
// vencedor de todo o pool menos a margem da casa.

var (
	ErrRoundNotFound    = errors.New("round not found")
	ErrRoundNotOpen     = errors.New("round not open")
	ErrInvalidCount     = errors.New("invalid entry count")
	ErrEntryCapExceeded = errors.New("entry cap exceeded")
	ErrAlreadyDrawn     = errors.New("round already drawn")
	ErrNoEntries        = errors.New("round has no entries")
	ErrRoundNotDrawn    = errors.New("round not drawn")
	ErrRoundHasWinner   = errors.New("round has a winner")
	ErrAlreadyRefunded  = errors.New("round already refunded")
	ErrInvalidPrice     = errors.New("invalid entry price")
)

type Status string

const (
	StatusOpen        Status = "OPEN"
	StatusPendingDraw Status = "PENDING_DRAW"
	StatusDrawn       Status = "DRAWN"
)

// Entry é um bilhete individual, peso 1. count bilhetes geram count
// entradas do mesmo participante.
type Entry struct {
	Participant string
}

// Round é um sorteio multi-participante. O preço do bilhete é congelado
// na abertura; o status só anda pra frente (Open -> PendingDraw -> Drawn).
type Round struct {
	ID           uint64
	OpenedAt     time.Time
	ClosesAt     time.Time
	PriceCents   int64
	Entries      []Entry
	TotalEntries int64
	PoolCents    int64
	Status       Status

	// Preenchidos no sorteio
	WinningIndex  int64 // -1 enquanto não sorteado
	Winner        string
	PrizeCents    int64
	HouseCutCents int64

	RequestID string
	Refunded  bool // válvula de escape handleNoWinner já executada
}

type Config struct {
	EntryPriceCents int64
	EntryCap        int64
	MinEntries      int64
	RoundDuration   time.Duration
	HouseEdgeBps    int64
}

// Store é o trilho de auditoria dos rounds; erros são logados, nunca
// bloqueiam o fluxo de jogo.
type Store interface {
	RoundOpened(ctx context.Context, r *Round) error
	EntriesAdded(ctx context.Context, roundID uint64, participant string, count int64, poolCents int64) error
	RoundSealed(ctx context.Context, r *Round) error
	RoundDrawn(ctx context.Context, r *Round) error
	RoundRefunded(ctx context.Context, r *Round) error
}

// Result é o desfecho de um sorteio
type Result struct {
	RoundID       uint64
	WinningIndex  int64
	Winner        string
	PrizeCents    int64
	HouseCutCents int64
}

// Engine serializa toda mutação com um único mutex: o fechamento do
// round assume que totalEntries/pool/status não mudam entre leitura e
// escrita. Nunca existem dois rounds abertos: cada Drawn (ou selagem)
// encadeia o próximo via openRoundLocked.
type Engine struct {
	mu  sync.Mutex
	log *zap.Logger
	cfg Config

	ledger   ports.Ledger
	random   ports.Randomness
	registry ports.RequestRegistry
	store    Store

	now func() time.Time

	seq           uint64
	rounds        map[uint64]*Round
	byParticipant map[string][]uint64
	currentID     uint64 // round aberto no momento

	houseAccruedCents int64
}

func NewEngine(log *zap.Logger, cfg Config, ledger ports.Ledger, random ports.Randomness, registry ports.RequestRegistry, store Store) *Engine {
	return &Engine{
		log:           log,
		cfg:           cfg,
		ledger:        ledger,
		random:        random,
		registry:      registry,
		store:         store,
		now:           time.Now,
		rounds:        make(map[uint64]*Round),
		byParticipant: make(map[string][]uint64),
	}
}

// OpenRound abre o round inicial na subida do serviço. Idempotente:
// se já existe um round aberto, retorna o id dele.
func (e *Engine) OpenRound(ctx context.Context) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.currentID != 0 && e.rounds[e.currentID].Status == StatusOpen {
		return e.currentID
	}
	return e.openRoundLocked(ctx).ID
}

// openRoundLocked cria o próximo round com o preço vigente congelado.
// Chamado na subida e a cada selagem; exige e.mu segurado.
func (e *Engine) openRoundLocked(ctx context.Context) *Round {
	e.seq++
	now := e.now()
	r := &Round{
		ID:           e.seq,
		OpenedAt:     now,
		ClosesAt:     now.Add(e.cfg.RoundDuration),
		PriceCents:   e.cfg.EntryPriceCents,
		Status:       StatusOpen,
		WinningIndex: -1,
	}
	e.rounds[r.ID] = r
	e.currentID = r.ID

	e.log.Info("round opened",
		zap.Uint64("roundId", r.ID),
		zap.Int64("priceCents", r.PriceCents),
		zap.Time("closesAt", r.ClosesAt))

	if e.store != nil {
		if serr := e.store.RoundOpened(ctx, r); serr != nil {
			e.log.Warn("audit store round opened", zap.Uint64("roundId", r.ID), zap.Error(serr))
		}
	}
	return r
}

// ShouldClose decide se um round deve ser selado: quórum de bilhetes
// atingido ou deadline de parede vencido. Predicado puro pra ser
// testável sem mockar o relógio do engine inteiro.
func ShouldClose(r *Round, minEntries int64, now time.Time) bool {
	if r.Status != StatusOpen {
		return false
	}
	return r.TotalEntries >= minEntries || !now.Before(r.ClosesAt)
}

// BuyEntries debita count * preço do round e anexa count bilhetes.
// Se a compra cruzar o gatilho de fechamento, a selagem acontece
// sincronamente dentro da mesma operação: quem cruza o limiar paga o
// custo de selar o round (tradeoff explícito, documentar na API).
// Retorna sealed=true quando esta compra selou o round.
func (e *Engine) BuyEntries(ctx context.Context, roundID uint64, participant string, count int64) (sealed bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return false, ErrRoundNotFound
	}
	// Bilhetes após a selagem são rejeitados, nunca anexados retroativamente;
	// o cliente recompra contra o round corrente exposto em /rounds/current.
	if r.Status != StatusOpen {
		return false, ErrRoundNotOpen
	}
	if count <= 0 {
		return false, ErrInvalidCount
	}
	if r.TotalEntries+count > e.cfg.EntryCap {
		return false, ErrEntryCapExceeded
	}

	cost, err := fixedpoint.MulChecked(count, r.PriceCents)
	if err != nil {
		return false, fmt.Errorf("entry cost: %w", err)
	}

	// O offset de bilhetes entra no ref: totalEntries só cresce, então
	// cada compra do round debita com um ref inédito mesmo quando o
	// mesmo participante compra mais de uma vez (a wallet deduplica por
	// ref; um ref compartilhado viraria no-op a partir da segunda compra).
	ref := fmt.Sprintf("round:%d:entries:%d", r.ID, r.TotalEntries)
	if err := e.ledger.Debit(ctx, participant, cost, ref); err != nil {
		return false, fmt.Errorf("debit entries: %w", err)
	}

	for i := int64(0); i < count; i++ {
		r.Entries = append(r.Entries, Entry{Participant: participant})
	}
	r.TotalEntries += count
	r.PoolCents += cost

	if ids := e.byParticipant[participant]; len(ids) == 0 || ids[len(ids)-1] != r.ID {
		e.byParticipant[participant] = append(ids, r.ID)
	}

	if e.store != nil {
		if serr := e.store.EntriesAdded(ctx, r.ID, participant, count, r.PoolCents); serr != nil {
			e.log.Warn("audit store entries added", zap.Uint64("roundId", r.ID), zap.Error(serr))
		}
	}

	if ShouldClose(r, e.cfg.MinEntries, e.now()) {
		e.sealLocked(ctx, r)
		return true, nil
	}
	return false, nil
}

// sealLocked faz a transição Open -> PendingDraw, dispara a única
// requisição de aleatoriedade do round e abre o próximo.
func (e *Engine) sealLocked(ctx context.Context, r *Round) {
	r.Status = StatusPendingDraw

	reqID, err := e.random.Request(ctx, ports.Tag{Kind: ports.OwnerRound, OwnerID: r.ID})
	if err != nil {
		// Round fica PendingDraw sem requestID; precisa de intervenção do
		// operador. Num mundo ideal teríamos uma fila de compensação aqui.
		e.log.Error("randomness request for sealed round failed",
			zap.Uint64("roundId", r.ID), zap.Error(err))
	} else {
		r.RequestID = reqID
		e.registry.Register(reqID, ports.OwnerRound, r.ID)
	}

	e.log.Info("round sealed",
		zap.Uint64("roundId", r.ID),
		zap.Int64("totalEntries", r.TotalEntries),
		zap.Int64("poolCents", r.PoolCents),
		zap.String("requestId", r.RequestID))

	if e.store != nil {
		if serr := e.store.RoundSealed(ctx, r); serr != nil {
			e.log.Warn("audit store round sealed", zap.Uint64("roundId", r.ID), zap.Error(serr))
		}
	}

	e.openRoundLocked(ctx)
}

// Settle sorteia o vencedor de um round PendingDraw. Só deve ser
// invocado pelo dispatcher. Ao contrário do engine de dados, falha de
// crédito aqui aborta a liquidação: um round tem exatamente um
// beneficiário e zerar o prêmio em silêncio não é aceitável (divergência
// de política intencional entre os dois engines; não "unificar").
func (e *Engine) Settle(ctx context.Context, roundID uint64, randomValue uint64) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return Result{}, ErrRoundNotFound
	}
	if r.Status != StatusPendingDraw {
		return Result{}, ErrAlreadyDrawn
	}
	// Defensivo: inalcançável via gatilho de fechamento, que exige compra
	if r.TotalEntries == 0 {
		return Result{}, ErrNoEntries
	}

	winningIndex := int64(randomValue % uint64(r.TotalEntries))
	winner := r.Entries[winningIndex].Participant

	houseCut, err := fixedpoint.Proportion(r.PoolCents, e.cfg.HouseEdgeBps, 10_000)
	if err != nil {
		return Result{}, fmt.Errorf("house cut: %w", err)
	}
	prize := r.PoolCents - houseCut

	if prize > 0 {
		ref := fmt.Sprintf("round:%d:prize", r.ID)
		if cerr := e.ledger.Credit(ctx, winner, prize, ref); cerr != nil {
			return Result{}, fmt.Errorf("credit prize: %w", cerr)
		}
	}

	r.Status = StatusDrawn
	r.WinningIndex = winningIndex
	r.Winner = winner
	r.PrizeCents = prize
	r.HouseCutCents = houseCut
	e.houseAccruedCents += houseCut

	if e.store != nil {
		if serr := e.store.RoundDrawn(ctx, r); serr != nil {
			e.log.Warn("audit store round drawn", zap.Uint64("roundId", r.ID), zap.Error(serr))
		}
	}

	return Result{
		RoundID:       r.ID,
		WinningIndex:  winningIndex,
		Winner:        winner,
		PrizeCents:    prize,
		HouseCutCents: houseCut,
	}, nil
}

// VoidDraw é a intervenção do operador para um round preso em
// PendingDraw com a requisição já consumida (ex.: crédito do prêmio
// abortou e o fulfillment não pode ser reentregue): anula o sorteio
// fechando o round como Drawn sem vencedor, o que libera o caminho de
// estorno de HandleNoWinner. Nenhum dinheiro se move aqui.
func (e *Engine) VoidDraw(ctx context.Context, roundID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return ErrRoundNotFound
	}
	if r.Status != StatusPendingDraw {
		return ErrAlreadyDrawn
	}

	r.Status = StatusDrawn

	e.log.Warn("draw voided by operator",
		zap.Uint64("roundId", r.ID),
		zap.Int64("poolCents", r.PoolCents))

	if e.store != nil {
		if serr := e.store.RoundDrawn(ctx, r); serr != nil {
			e.log.Warn("audit store round drawn", zap.Uint64("roundId", r.ID), zap.Error(serr))
		}
	}
	return nil
}

// HandleNoWinner é a válvula de escape administrativa para um round que
// chegou a Drawn sem vencedor resolvível: devolve o preço de cada
// bilhete ao seu participante. Tudo-ou-nada: qualquer falha de estorno
// compensa os créditos já feitos e aborta. Custo O(totalEntries),
// limitado só pelo cap de bilhetes.
func (e *Engine) HandleNoWinner(ctx context.Context, roundID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return ErrRoundNotFound
	}
	if r.Status != StatusDrawn {
		return ErrRoundNotDrawn
	}
	if r.Winner != "" {
		return ErrRoundHasWinner
	}
	if r.Refunded {
		return ErrAlreadyRefunded
	}

	// Nonce por tentativa: uma tentativa abortada deixa créditos reais na
	// wallet sob os refs usados; se a retentativa repetisse os mesmos refs,
	// a deduplicação da wallet os engoliria e os primeiros participantes
	// ficariam sem estorno com o round marcado Refunded.
	attempt := uuid.NewString()
	for i := range r.Entries {
		ref := fmt.Sprintf("round:%d:refund:%d:%s", r.ID, i, attempt)
		if err := e.ledger.Credit(ctx, r.Entries[i].Participant, r.PriceCents, ref); err != nil {
			// compensa os estornos já creditados pra não deixar estado parcial
			for j := i - 1; j >= 0; j-- {
				cref := fmt.Sprintf("round:%d:refund:%d:%s:undo", r.ID, j, attempt)
				if derr := e.ledger.Debit(ctx, r.Entries[j].Participant, r.PriceCents, cref); derr != nil {
					e.log.Error("refund compensation failed",
						zap.Uint64("roundId", r.ID), zap.Int("entry", j), zap.Error(derr))
				}
			}
			return fmt.Errorf("refund entry %d: %w", i, err)
		}
	}

	r.Refunded = true

	if e.store != nil {
		if serr := e.store.RoundRefunded(ctx, r); serr != nil {
			e.log.Warn("audit store round refunded", zap.Uint64("roundId", r.ID), zap.Error(serr))
		}
	}
	return nil
}

// Round retorna uma cópia do round (superfície de consulta, sem efeitos)
func (e *Engine) Round(id uint64) (Round, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[id]
	if !ok {
		return Round{}, ErrRoundNotFound
	}
	out := *r
	out.Entries = make([]Entry, len(r.Entries))
	copy(out.Entries, r.Entries)
	return out, nil
}

// CurrentRoundID retorna o id do round aberto
func (e *Engine) CurrentRoundID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentID
}

// RoundIDsByParticipant lista os rounds em que um participante comprou bilhete
func (e *Engine) RoundIDsByParticipant(participant string) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := e.byParticipant[participant]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// SetEntryPrice atualiza o preço de bilhete para rounds futuros;
// o round aberto mantém o preço congelado na abertura.
func (e *Engine) SetEntryPrice(priceCents int64) error {
	if priceCents <= 0 {
		return ErrInvalidPrice
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.EntryPriceCents = priceCents
	return nil
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
