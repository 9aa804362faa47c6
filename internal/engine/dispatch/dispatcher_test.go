package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/radieske/dice-lottery-platform-poc/internal/engine/bet"
	"github.com/radieske/dice-lottery-platform-poc/internal/engine/dispatch"
	"github.com/radieske/dice-lottery-platform-poc/internal/engine/pool"
	"github.com/radieske/dice-lottery-platform-poc/internal/ports"
)

const oracle = "oracle-simulator"

// ============================================================================
// Stubs dos engines
// ============================================================================

type stubWagerSettler struct {
	calls []uint64
	err   error
}

func (s *stubWagerSettler) Settle(_ context.Context, wagerID uint64, randomValue uint64) (bet.Result, error) {
	s.calls = append(s.calls, wagerID)
	if s.err != nil {
		return bet.Result{}, s.err
	}
	return bet.Result{WagerID: wagerID, Outcome: int(randomValue%100) + 1}, nil
}

type stubRoundSettler struct {
	calls []uint64
	err   error
}

func (s *stubRoundSettler) Settle(_ context.Context, roundID uint64, _ uint64) (pool.Result, error) {
	s.calls = append(s.calls, roundID)
	if s.err != nil {
		return pool.Result{}, s.err
	}
	return pool.Result{RoundID: roundID, Winner: "alice"}, nil
}

func newDispatcher() (*dispatch.Dispatcher, *stubWagerSettler, *stubRoundSettler) {
	d := dispatch.NewDispatcher(zap.NewNop(), oracle)
	wagers := &stubWagerSettler{}
	rounds := &stubRoundSettler{}
	d.Bind(wagers, rounds)
	return d, wagers, rounds
}

// ============================================================================
// Autorização e roteamento
// ============================================================================

func TestOnFulfillment_UnauthorizedCallerMutatesNothing(t *testing.T) {
	d, wagers, rounds := newDispatcher()
	d.Register("req-1", ports.OwnerWager, 7)

	_, err := d.OnFulfillment(context.Background(), "req-1", 42, "mallory")
	if !errors.Is(err, dispatch.ErrUnauthorizedCaller) {
		t.Fatalf("got %v, want ErrUnauthorizedCaller", err)
	}
	if len(wagers.calls) != 0 || len(rounds.calls) != 0 {
		t.Error("unauthorized caller must not reach any engine")
	}

	// a requisição continua viva pro oráculo legítimo
	out, err := d.OnFulfillment(context.Background(), "req-1", 42, oracle)
	if err != nil {
		t.Fatalf("legitimate fulfillment: %v", err)
	}
	if out.Kind != ports.OwnerWager || out.Wager == nil {
		t.Errorf("outcome got %+v", out)
	}
}

func TestOnFulfillment_UnknownRequest(t *testing.T) {
	d, wagers, _ := newDispatcher()

	_, err := d.OnFulfillment(context.Background(), "nope", 42, oracle)
	if !errors.Is(err, dispatch.ErrUnknownRequest) {
		t.Fatalf("got %v, want ErrUnknownRequest", err)
	}
	if len(wagers.calls) != 0 {
		t.Error("unknown request must not reach any engine")
	}
}

func TestOnFulfillment_RoutesByOwnerKind(t *testing.T) {
	d, wagers, rounds := newDispatcher()
	d.Register("req-w", ports.OwnerWager, 11)
	d.Register("req-r", ports.OwnerRound, 22)

	outW, err := d.OnFulfillment(context.Background(), "req-w", 49, oracle)
	if err != nil {
		t.Fatalf("wager fulfillment: %v", err)
	}
	if outW.Kind != ports.OwnerWager || outW.OwnerID != 11 {
		t.Errorf("wager outcome got %+v", outW)
	}
	if outW.Wager == nil || outW.Round != nil {
		t.Error("wager outcome must carry only the wager result")
	}
	if outW.Wager.Outcome != 50 {
		t.Errorf("outcome got %d, want 50", outW.Wager.Outcome)
	}

	outR, err := d.OnFulfillment(context.Background(), "req-r", 7, oracle)
	if err != nil {
		t.Fatalf("round fulfillment: %v", err)
	}
	if outR.Kind != ports.OwnerRound || outR.OwnerID != 22 {
		t.Errorf("round outcome got %+v", outR)
	}
	if outR.Round == nil || outR.Wager != nil {
		t.Error("round outcome must carry only the round result")
	}

	if len(wagers.calls) != 1 || wagers.calls[0] != 11 {
		t.Errorf("wager settler calls got %v", wagers.calls)
	}
	if len(rounds.calls) != 1 || rounds.calls[0] != 22 {
		t.Errorf("round settler calls got %v", rounds.calls)
	}
}

// ============================================================================
// Entrega duplicada e consumo antes do settle
// ============================================================================

func TestOnFulfillment_DuplicateDeliverySettlesOnce(t *testing.T) {
	d, wagers, _ := newDispatcher()
	d.Register("req-1", ports.OwnerWager, 7)

	if _, err := d.OnFulfillment(context.Background(), "req-1", 42, oracle); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if _, err := d.OnFulfillment(context.Background(), "req-1", 42, oracle); !errors.Is(err, dispatch.ErrAlreadyConsumed) {
		t.Fatalf("second delivery got %v, want ErrAlreadyConsumed", err)
	}
	if len(wagers.calls) != 1 {
		t.Errorf("settler calls got %d, want 1", len(wagers.calls))
	}
}

func TestOnFulfillment_ConsumedBeforeSettle(t *testing.T) {
	d, _, rounds := newDispatcher()
	d.Register("req-1", ports.OwnerRound, 5)

	// o settle falha, mas a requisição já foi consumida: a retentativa do
	// broker não pode causar um segundo settle
	rounds.err = errors.New("credit prize: transfer failed")
	if _, err := d.OnFulfillment(context.Background(), "req-1", 7, oracle); err == nil {
		t.Fatal("settle error must propagate")
	}

	if _, err := d.OnFulfillment(context.Background(), "req-1", 7, oracle); !errors.Is(err, dispatch.ErrAlreadyConsumed) {
		t.Fatalf("redelivery got %v, want ErrAlreadyConsumed", err)
	}
	if len(rounds.calls) != 1 {
		t.Errorf("settler calls got %d, want 1", len(rounds.calls))
	}
}

func TestPendingCount(t *testing.T) {
	d, _, _ := newDispatcher()
	if d.PendingCount() != 0 {
		t.Errorf("empty dispatcher pending got %d", d.PendingCount())
	}

	d.Register("req-1", ports.OwnerWager, 1)
	d.Register("req-2", ports.OwnerRound, 2)
	if d.PendingCount() != 2 {
		t.Errorf("pending got %d, want 2", d.PendingCount())
	}

	if _, err := d.OnFulfillment(context.Background(), "req-1", 42, oracle); err != nil {
		t.Fatalf("fulfillment: %v", err)
	}
	if d.PendingCount() != 1 {
		t.Errorf("pending after consume got %d, want 1", d.PendingCount())
	}
}
