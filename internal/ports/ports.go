package ports

import (
	"context"
	"errors"
)

// Portas para os colaboradores externos do núcleo de liquidação.
// Os engines enxergam o ledger e o oráculo só por estes contratos;
// nunca por referência direta ao armazenamento de saldos.

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferFailed    = errors.New("transfer failed")
)

// Ledger é a interface estreita da carteira externa.
// Debit e Credit são chamadas síncronas tudo-ou-nada do ponto de vista
// do engine; ref identifica a operação no extrato (ex: "wager:42").
type Ledger interface {
	Debit(ctx context.Context, userID string, amountCents int64, ref string) error
	Credit(ctx context.Context, userID string, amountCents int64, ref string) error
	BalanceOf(ctx context.Context, userID string) (int64, error)
}

// OwnerKind marca quem é o dono de uma requisição de aleatoriedade
type OwnerKind string

const (
	OwnerWager OwnerKind = "WAGER"
	OwnerRound OwnerKind = "ROUND"
)

// Tag acompanha a requisição até o fulfillment voltar
type Tag struct {
	Kind    OwnerKind
	OwnerID uint64
}

// Randomness é a porta de saída para o oráculo: cada Request gera
// exatamente um requestID; o fulfillment chega depois, por fora,
// via dispatcher.
type Randomness interface {
	Request(ctx context.Context, tag Tag) (requestID string, err error)
}

// RequestRegistry registra uma requisição pendente no dispatcher
// (consumida exatamente uma vez no fulfillment)
type RequestRegistry interface {
	Register(requestID string, kind OwnerKind, ownerID uint64)
}
