package pool_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/dice-lottery-platform-poc/internal/engine/pool"
	"github.com/radieske/dice-lottery-platform-poc/internal/ports"
)

// ============================================================================
// Fakes das portas externas
// ============================================================================

type fakeLedger struct {
	balances   map[string]int64
	credits    int
	failCredit bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]int64{}}
}

func (f *fakeLedger) Debit(_ context.Context, userID string, amountCents int64, _ string) error {
	if f.balances[userID] < amountCents {
		return ports.ErrInsufficientFunds
	}
	f.balances[userID] -= amountCents
	return nil
}

func (f *fakeLedger) Credit(_ context.Context, userID string, amountCents int64, _ string) error {
	if f.failCredit {
		return ports.ErrTransferFailed
	}
	f.balances[userID] += amountCents
	f.credits++
	return nil
}

func (f *fakeLedger) BalanceOf(_ context.Context, userID string) (int64, error) {
	return f.balances[userID], nil
}

type fakeRandom struct{ n int }

func (f *fakeRandom) Request(_ context.Context, _ ports.Tag) (string, error) {
	f.n++
	return fmt.Sprintf("req-%d", f.n), nil
}

type registration struct {
	requestID string
	kind      ports.OwnerKind
	ownerID   uint64
}

type fakeRegistry struct{ regs []registration }

func (f *fakeRegistry) Register(requestID string, kind ports.OwnerKind, ownerID uint64) {
	f.regs = append(f.regs, registration{requestID, kind, ownerID})
}

func testConfig() pool.Config {
	return pool.Config{
		EntryPriceCents: 10,
		EntryCap:        1_000,
		MinEntries:      100,
		RoundDuration:   time.Hour,
		HouseEdgeBps:    500,
	}
}

func newEngine(cfg pool.Config, ledger *fakeLedger) (*pool.Engine, *fakeRegistry) {
	reg := &fakeRegistry{}
	e := pool.NewEngine(zap.NewNop(), cfg, ledger, &fakeRandom{}, reg, nil)
	return e, reg
}

func fund(l *fakeLedger, users ...string) {
	for _, u := range users {
		l.balances[u] = 1_000_000
	}
}

// ============================================================================
// Abertura e compra de bilhetes
// ============================================================================

func TestOpenRound_Idempotent(t *testing.T) {
	e, _ := newEngine(testConfig(), newFakeLedger())
	ctx := context.Background()

	first := e.OpenRound(ctx)
	second := e.OpenRound(ctx)
	if first != second {
		t.Errorf("OpenRound must reuse the open round: got %d then %d", first, second)
	}
}

func TestBuyEntries_PoolConsistency(t *testing.T) {
	ledger := newFakeLedger()
	fund(ledger, "alice", "bob")
	e, _ := newEngine(testConfig(), ledger)
	ctx := context.Background()
	id := e.OpenRound(ctx)

	// 3 bilhetes a preço 10, abaixo do quórum: pool == N*P
	if _, err := e.BuyEntries(ctx, id, "alice", 2); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := e.BuyEntries(ctx, id, "bob", 1); err != nil {
		t.Fatalf("buy: %v", err)
	}

	r, err := e.Round(id)
	if err != nil {
		t.Fatalf("round: %v", err)
	}
	if r.TotalEntries != 3 {
		t.Errorf("totalEntries got %d, want 3", r.TotalEntries)
	}
	if r.PoolCents != 30 {
		t.Errorf("pool got %d, want 30", r.PoolCents)
	}
	if len(r.Entries) != int(r.TotalEntries) {
		t.Errorf("entries length %d != totalEntries %d", len(r.Entries), r.TotalEntries)
	}
	if r.Status != pool.StatusOpen {
		t.Errorf("status got %s, want OPEN", r.Status)
	}
	if ledger.balances["alice"] != 1_000_000-20 {
		t.Errorf("alice balance got %d", ledger.balances["alice"])
	}
}

func TestBuyEntries_Validation(t *testing.T) {
	ledger := newFakeLedger()
	fund(ledger, "alice")
	cfg := testConfig()
	cfg.EntryCap = 5
	e, _ := newEngine(cfg, ledger)
	ctx := context.Background()
	id := e.OpenRound(ctx)

	if _, err := e.BuyEntries(ctx, id, "alice", 0); !errors.Is(err, pool.ErrInvalidCount) {
		t.Errorf("count 0: got %v, want ErrInvalidCount", err)
	}
	if _, err := e.BuyEntries(ctx, id, "alice", -1); !errors.Is(err, pool.ErrInvalidCount) {
		t.Errorf("count -1: got %v, want ErrInvalidCount", err)
	}
	if _, err := e.BuyEntries(ctx, id, "alice", 6); !errors.Is(err, pool.ErrEntryCapExceeded) {
		t.Errorf("over cap: got %v, want ErrEntryCapExceeded", err)
	}
	if _, err := e.BuyEntries(ctx, 999, "alice", 1); !errors.Is(err, pool.ErrRoundNotFound) {
		t.Errorf("unknown round: got %v, want ErrRoundNotFound", err)
	}
}

func TestBuyEntries_InsufficientFunds(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances["poor"] = 5
	e, _ := newEngine(testConfig(), ledger)
	ctx := context.Background()
	id := e.OpenRound(ctx)

	if _, err := e.BuyEntries(ctx, id, "poor", 1); !errors.Is(err, ports.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	r, _ := e.Round(id)
	if r.TotalEntries != 0 || r.PoolCents != 0 {
		t.Errorf("failed debit must not append entries: %+v", r)
	}
}

// ============================================================================
// Selagem (Open -> PendingDraw) e encadeamento de rounds
// ============================================================================

func TestBuyEntries_SealsOnThreshold(t *testing.T) {
	ledger := newFakeLedger()
	fund(ledger, "alice")
	cfg := testConfig()
	cfg.MinEntries = 3
	e, reg := newEngine(cfg, ledger)
	ctx := context.Background()
	id := e.OpenRound(ctx)

	sealed, err := e.BuyEntries(ctx, id, "alice", 2)
	if err != nil || sealed {
		t.Fatalf("below threshold: sealed=%v err=%v", sealed, err)
	}

	// esta compra cruza o quórum e sela o round na mesma operação
	sealed, err = e.BuyEntries(ctx, id, "alice", 1)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !sealed {
		t.Fatal("crossing the threshold must seal the round")
	}

	r, _ := e.Round(id)
	if r.Status != pool.StatusPendingDraw {
		t.Errorf("status got %s, want PENDING_DRAW", r.Status)
	}
	if r.RequestID == "" {
		t.Error("sealed round must carry a requestID")
	}

	// exatamente uma requisição registrada, do round selado
	if len(reg.regs) != 1 {
		t.Fatalf("registrations got %d, want 1", len(reg.regs))
	}
	if reg.regs[0].kind != ports.OwnerRound || reg.regs[0].ownerID != id {
		t.Errorf("registration got %+v", reg.regs[0])
	}

	// o próximo round já nasceu aberto, com id sequencial
	next := e.CurrentRoundID()
	if next != id+1 {
		t.Errorf("next round id got %d, want %d", next, id+1)
	}

	// bilhete atrasado é rejeitado, nunca anexado retroativamente
	if _, err := e.BuyEntries(ctx, id, "alice", 1); !errors.Is(err, pool.ErrRoundNotOpen) {
		t.Errorf("late entry: got %v, want ErrRoundNotOpen", err)
	}
}

func TestBuyEntries_SealsOnDeadline(t *testing.T) {
	ledger := newFakeLedger()
	fund(ledger, "alice")
	cfg := testConfig()
	cfg.RoundDuration = 0 // deadline já vencido na abertura
	e, _ := newEngine(cfg, ledger)
	ctx := context.Background()
	id := e.OpenRound(ctx)

	sealed, err := e.BuyEntries(ctx, id, "alice", 1)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !sealed {
		t.Fatal("past deadline, the first purchase must seal the round")
	}
}

func TestShouldClose(t *testing.T) {
	now := time.Now()
	r := &pool.Round{Status: pool.StatusOpen, TotalEntries: 2, ClosesAt: now.Add(time.Hour)}

	if pool.ShouldClose(r, 3, now) {
		t.Error("below quorum and before deadline: must stay open")
	}
	r.TotalEntries = 3
	if !pool.ShouldClose(r, 3, now) {
		t.Error("quorum reached: must close")
	}
	r.TotalEntries = 1
	if !pool.ShouldClose(r, 3, now.Add(2*time.Hour)) {
		t.Error("deadline passed: must close")
	}
	r.Status = pool.StatusPendingDraw
	if pool.ShouldClose(r, 3, now.Add(2*time.Hour)) {
		t.Error("non-open round never closes again")
	}
}

func TestRoundPriceFrozenAtOpen(t *testing.T) {
	ledger := newFakeLedger()
	fund(ledger, "alice")
	cfg := testConfig()
	cfg.MinEntries = 1 // qualquer compra sela
	e, _ := newEngine(cfg, ledger)
	ctx := context.Background()
	id := e.OpenRound(ctx)

	// preço muda no meio: round corrente mantém o congelado
	if err := e.SetEntryPrice(25); err != nil {
		t.Fatalf("set price: %v", err)
	}

	if _, err := e.BuyEntries(ctx, id, "alice", 1); err != nil {
		t.Fatalf("buy: %v", err)
	}
	r, _ := e.Round(id)
	if r.PoolCents != 10 {
		t.Errorf("pool got %d, want 10 (frozen price)", r.PoolCents)
	}

	// o round seguinte nasce com o preço novo
	next, _ := e.Round(e.CurrentRoundID())
	if next.PriceCents != 25 {
		t.Errorf("next round price got %d, want 25", next.PriceCents)
	}
}

// ============================================================================
// Sorteio
// ============================================================================

// sealRound prepara um round PendingDraw com bilhetes de alice, bob e carol
func sealRound(t *testing.T, e *pool.Engine, ledger *fakeLedger) uint64 {
	t.Helper()
	ctx := context.Background()
	fund(ledger, "alice", "bob", "carol")
	id := e.OpenRound(ctx)

	for _, u := range []string{"alice", "bob"} {
		if _, err := e.BuyEntries(ctx, id, u, 1); err != nil {
			t.Fatalf("buy %s: %v", u, err)
		}
	}
	sealed, err := e.BuyEntries(ctx, id, "carol", 1)
	if err != nil || !sealed {
		t.Fatalf("sealing buy: sealed=%v err=%v", sealed, err)
	}
	return id
}

func TestSettle_ReferenceScenario(t *testing.T) {
	ledger := newFakeLedger()
	cfg := testConfig()
	cfg.MinEntries = 3
	e, _ := newEngine(cfg, ledger)
	id := sealRound(t, e, ledger)

	// totalEntries=3, randomValue=7: winningIndex = 7 mod 3 = 1 -> bob
	// pool=30, edge=500bps: houseCut=1, prize=29
	res, err := e.Settle(context.Background(), id, 7)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.WinningIndex != 1 {
		t.Errorf("winningIndex got %d, want 1", res.WinningIndex)
	}
	if res.Winner != "bob" {
		t.Errorf("winner got %s, want bob", res.Winner)
	}
	if res.HouseCutCents != 1 {
		t.Errorf("houseCut got %d, want 1", res.HouseCutCents)
	}
	if res.PrizeCents != 29 {
		t.Errorf("prize got %d, want 29", res.PrizeCents)
	}
	if ledger.balances["bob"] != 1_000_000-10+29 {
		t.Errorf("bob balance got %d", ledger.balances["bob"])
	}

	r, _ := e.Round(id)
	if r.Status != pool.StatusDrawn {
		t.Errorf("status got %s, want DRAWN", r.Status)
	}
	if e.HouseAccruedCents() != 1 {
		t.Errorf("house accrual got %d, want 1", e.HouseAccruedCents())
	}
}

func TestSettle_Deterministic(t *testing.T) {
	// mesmo randomValue + mesmos bilhetes => mesmo vencedor
	for i := 0; i < 3; i++ {
		ledger := newFakeLedger()
		cfg := testConfig()
		cfg.MinEntries = 3
		e, _ := newEngine(cfg, ledger)
		id := sealRound(t, e, ledger)

		res, err := e.Settle(context.Background(), id, 7)
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		if res.Winner != "bob" || res.WinningIndex != 1 {
			t.Fatalf("run %d: got winner=%s index=%d, want bob/1", i, res.Winner, res.WinningIndex)
		}
	}
}

func TestSettle_TwiceFailsOnce(t *testing.T) {
	ledger := newFakeLedger()
	cfg := testConfig()
	cfg.MinEntries = 3
	e, _ := newEngine(cfg, ledger)
	id := sealRound(t, e, ledger)

	if _, err := e.Settle(context.Background(), id, 7); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if _, err := e.Settle(context.Background(), id, 7); !errors.Is(err, pool.ErrAlreadyDrawn) {
		t.Fatalf("second settle got %v, want ErrAlreadyDrawn", err)
	}
	if ledger.credits != 1 {
		t.Errorf("credits got %d, want 1", ledger.credits)
	}
}

func TestSettle_OpenRoundRejected(t *testing.T) {
	ledger := newFakeLedger()
	fund(ledger, "alice")
	e, _ := newEngine(testConfig(), ledger)
	ctx := context.Background()
	id := e.OpenRound(ctx)
	_, _ = e.BuyEntries(ctx, id, "alice", 1)

	if _, err := e.Settle(ctx, id, 7); !errors.Is(err, pool.ErrAlreadyDrawn) {
		t.Errorf("settling an open round: got %v, want ErrAlreadyDrawn", err)
	}
}

func TestSettle_CreditFailureAborts(t *testing.T) {
	ledger := newFakeLedger()
	cfg := testConfig()
	cfg.MinEntries = 3
	e, _ := newEngine(cfg, ledger)
	id := sealRound(t, e, ledger)

	// aqui a política DIVERGE do engine de dados: crédito falhou, aborta
	ledger.failCredit = true
	if _, err := e.Settle(context.Background(), id, 7); !errors.Is(err, ports.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}

	r, _ := e.Round(id)
	if r.Status != pool.StatusPendingDraw {
		t.Errorf("status got %s, want PENDING_DRAW (no silent zeroing)", r.Status)
	}
	if r.Winner != "" {
		t.Errorf("winner must not be recorded on abort, got %s", r.Winner)
	}

	// com o ledger saudável, a mesma liquidação volta a funcionar
	ledger.failCredit = false
	if _, err := e.Settle(context.Background(), id, 7); err != nil {
		t.Errorf("retried settle: %v", err)
	}
}

// dedupLedger espelha a idempotência por ref da wallet real: operação
// repetida com o mesmo ref é no-op bem-sucedido
type dedupLedger struct {
	balances map[string]int64
	applied  map[string]bool
}

func (d *dedupLedger) Debit(_ context.Context, userID string, amountCents int64, ref string) error {
	key := "debit:" + ref
	if d.applied[key] {
		return nil
	}
	if d.balances[userID] < amountCents {
		return ports.ErrInsufficientFunds
	}
	d.balances[userID] -= amountCents
	d.applied[key] = true
	return nil
}

func (d *dedupLedger) Credit(_ context.Context, userID string, amountCents int64, ref string) error {
	key := "credit:" + ref
	if d.applied[key] {
		return nil
	}
	d.balances[userID] += amountCents
	d.applied[key] = true
	return nil
}

func (d *dedupLedger) BalanceOf(_ context.Context, userID string) (int64, error) {
	return d.balances[userID], nil
}

func TestBuyEntries_RepeatPurchaseDebitsEachTime(t *testing.T) {
	ledger := &dedupLedger{
		balances: map[string]int64{"alice": 1_000_000},
		applied:  map[string]bool{},
	}
	reg := &fakeRegistry{}
	e := pool.NewEngine(zap.NewNop(), testConfig(), ledger, &fakeRandom{}, reg, nil)
	ctx := context.Background()
	id := e.OpenRound(ctx)

	// duas compras do mesmo participante no mesmo round: cada uma debita
	// com um ref próprio; um ref compartilhado viraria no-op na wallet
	if _, err := e.BuyEntries(ctx, id, "alice", 1); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, err := e.BuyEntries(ctx, id, "alice", 2); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	if ledger.balances["alice"] != 1_000_000-30 {
		t.Errorf("balance got %d, want %d", ledger.balances["alice"], 1_000_000-30)
	}
	r, _ := e.Round(id)
	if r.PoolCents != 30 {
		t.Errorf("pool got %d, want 30", r.PoolCents)
	}
}

// ============================================================================
// Válvula de escape (guardas; o caminho de estorno completo é coberto
// em refund_internal_test.go)
// ============================================================================

func TestVoidDraw_UnsticksAbortedDraw(t *testing.T) {
	ledger := newFakeLedger()
	cfg := testConfig()
	cfg.MinEntries = 3
	e, _ := newEngine(cfg, ledger)
	id := sealRound(t, e, ledger)

	// crédito do prêmio abortou com a requisição já consumida: o round
	// ficou preso em PENDING_DRAW sem chance de reentrega
	ledger.failCredit = true
	if _, err := e.Settle(context.Background(), id, 7); !errors.Is(err, ports.ErrTransferFailed) {
		t.Fatalf("settle: got %v, want ErrTransferFailed", err)
	}
	ledger.failCredit = false

	if err := e.VoidDraw(context.Background(), id); err != nil {
		t.Fatalf("void draw: %v", err)
	}
	r, _ := e.Round(id)
	if r.Status != pool.StatusDrawn {
		t.Errorf("status got %s, want DRAWN", r.Status)
	}
	if r.Winner != "" || r.WinningIndex != -1 {
		t.Errorf("voided draw must not resolve a winner: %+v", r)
	}

	// com o sorteio anulado, o estorno devolve cada bilhete
	if err := e.HandleNoWinner(context.Background(), id); err != nil {
		t.Fatalf("refund: %v", err)
	}
	for _, u := range []string{"alice", "bob", "carol"} {
		if ledger.balances[u] != 1_000_000 {
			t.Errorf("%s balance got %d, want 1000000", u, ledger.balances[u])
		}
	}
}

func TestVoidDraw_Guards(t *testing.T) {
	ledger := newFakeLedger()
	fund(ledger, "alice")
	cfg := testConfig()
	cfg.MinEntries = 3
	e, _ := newEngine(cfg, ledger)
	ctx := context.Background()
	id := e.OpenRound(ctx)

	// round aberto não tem sorteio pra anular
	if err := e.VoidDraw(ctx, id); !errors.Is(err, pool.ErrAlreadyDrawn) {
		t.Errorf("open round: got %v, want ErrAlreadyDrawn", err)
	}
	if err := e.VoidDraw(ctx, 999); !errors.Is(err, pool.ErrRoundNotFound) {
		t.Errorf("unknown round: got %v, want ErrRoundNotFound", err)
	}

	id = sealRound(t, e, ledger)
	if _, err := e.Settle(ctx, id, 7); err != nil {
		t.Fatalf("settle: %v", err)
	}
	// sorteio concluído não pode ser anulado
	if err := e.VoidDraw(ctx, id); !errors.Is(err, pool.ErrAlreadyDrawn) {
		t.Errorf("drawn round: got %v, want ErrAlreadyDrawn", err)
	}
}

func TestHandleNoWinner_Guards(t *testing.T) {
	ledger := newFakeLedger()
	cfg := testConfig()
	cfg.MinEntries = 3
	e, _ := newEngine(cfg, ledger)
	id := sealRound(t, e, ledger)

	// round ainda não sorteado
	if err := e.HandleNoWinner(context.Background(), id); !errors.Is(err, pool.ErrRoundNotDrawn) {
		t.Errorf("pending draw: got %v, want ErrRoundNotDrawn", err)
	}

	if _, err := e.Settle(context.Background(), id, 7); err != nil {
		t.Fatalf("settle: %v", err)
	}
	// round sorteado com vencedor resolvido
	if err := e.HandleNoWinner(context.Background(), id); !errors.Is(err, pool.ErrRoundHasWinner) {
		t.Errorf("drawn with winner: got %v, want ErrRoundHasWinner", err)
	}

	if err := e.HandleNoWinner(context.Background(), 999); !errors.Is(err, pool.ErrRoundNotFound) {
		t.Errorf("unknown round: got %v, want ErrRoundNotFound", err)
	}
}
