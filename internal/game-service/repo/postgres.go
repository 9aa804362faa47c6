package repo

import (
	"context"
	"database/sql"

	"github.com/radieske/dice-lottery-platform-poc/internal/engine/bet"
	"github.com/radieske/dice-lottery-platform-poc/internal/engine/pool"
)

// Postgres é o trilho de auditoria do game-service: wagers, rounds e
// bilhetes são gravados conforme mudam. Os engines em memória são a
// fonte de verdade durante a operação; estas tabelas servem pra
// inspeção, reconciliação e histórico pós-restart.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// --- bet.Store ---

// WagerPlaced insere a aposta recém-criada com status PENDING
func (p *Postgres) WagerPlaced(ctx context.Context, w *bet.Wager) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wagers (id, bettor, stake_cents, prediction, status, request_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		w.ID, w.Bettor, w.StakeCents, w.Prediction, string(w.Status), w.RequestID, w.CreatedAt,
	)
	return err
}

// WagerSettled grava o desfecho da aposta
func (p *Postgres) WagerSettled(ctx context.Context, w *bet.Wager) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE wagers SET status=$1, outcome=$2, payout_cents=$3, updated_at=NOW()
		WHERE id=$4`,
		string(w.Status), w.Outcome, w.PayoutCents, w.ID,
	)
	return err
}

// --- pool.Store ---

// RoundOpened insere o round recém-aberto
func (p *Postgres) RoundOpened(ctx context.Context, r *pool.Round) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rounds (id, opened_at, closes_at, price_cents, status)
		VALUES ($1,$2,$3,$4,$5)`,
		r.ID, r.OpenedAt, r.ClosesAt, r.PriceCents, string(r.Status),
	)
	return err
}

// EntriesAdded registra uma compra de bilhetes e o novo total do pool
func (p *Postgres) EntriesAdded(ctx context.Context, roundID uint64, participant string, count int64, poolCents int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO round_entries (round_id, participant, entry_count)
		VALUES ($1,$2,$3)`,
		roundID, participant, count); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE rounds SET total_entries = total_entries + $1, pool_cents = $2, updated_at=NOW()
		WHERE id=$3`,
		count, poolCents, roundID); err != nil {
		return err
	}
	return tx.Commit()
}

// RoundSealed grava a transição OPEN -> PENDING_DRAW e o requestID
func (p *Postgres) RoundSealed(ctx context.Context, r *pool.Round) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE rounds SET status=$1, request_id=$2, updated_at=NOW()
		WHERE id=$3`,
		string(r.Status), r.RequestID, r.ID,
	)
	return err
}

// RoundDrawn grava o resultado do sorteio
func (p *Postgres) RoundDrawn(ctx context.Context, r *pool.Round) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE rounds SET status=$1, winning_index=$2, winner=$3, prize_cents=$4,
			house_cut_cents=$5, updated_at=NOW()
		WHERE id=$6`,
		string(r.Status), r.WinningIndex, r.Winner, r.PrizeCents, r.HouseCutCents, r.ID,
	)
	return err
}

// RoundRefunded marca a execução da válvula de escape de estorno
func (p *Postgres) RoundRefunded(ctx context.Context, r *pool.Round) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE rounds SET refunded=TRUE, updated_at=NOW() WHERE id=$1`, r.ID)
	return err
}
