package events

import "time"

// Evento de broadcast após a liquidação de uma aposta de dados
type WagerSettled struct {
	WagerID     uint64    `json:"wager_id"`
	UserID      string    `json:"user_id"`
	Outcome     int       `json:"outcome"` // resultado do dado, 1..100
	Win         bool      `json:"win"`
	PayoutCents int64     `json:"payout_cents"`
	Ts          time.Time `json:"ts"`
}

// Evento de broadcast após o sorteio de um round da loteria
type RoundDrawn struct {
	RoundID       uint64    `json:"round_id"`
	WinningIndex  int64     `json:"winning_index"`
	Winner        string    `json:"winner"`
	PrizeCents    int64     `json:"prize_cents"`
	HouseCutCents int64     `json:"house_cut_cents"`
	Ts            time.Time `json:"ts"`
}
