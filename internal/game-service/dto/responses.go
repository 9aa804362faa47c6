package dto

import "time"

type PlaceWagerResponse struct {
	WagerID uint64 `json:"wagerId"`
	Status  string `json:"status"` // "PENDING"
}

type WagerResponse struct {
	WagerID     uint64    `json:"wagerId"`
	Bettor      string    `json:"bettor"`
	StakeCents  int64     `json:"stake_cents"`
	Prediction  int       `json:"prediction"`
	Outcome     int       `json:"outcome,omitempty"`
	Status      string    `json:"status"`
	PayoutCents int64     `json:"payout_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

type WagerIDsResponse struct {
	UserID   string   `json:"userId"`
	WagerIDs []uint64 `json:"wagerIds"`
}

type BuyEntriesResponse struct {
	RoundID      uint64 `json:"roundId"`
	TotalEntries int64  `json:"totalEntries"`
	PoolCents    int64  `json:"pool_cents"`
	Sealed       bool   `json:"sealed"` // true se esta compra selou o round
}

type RoundResponse struct {
	RoundID       uint64    `json:"roundId"`
	Status        string    `json:"status"`
	OpenedAt      time.Time `json:"opened_at"`
	ClosesAt      time.Time `json:"closes_at"`
	PriceCents    int64     `json:"price_cents"`
	TotalEntries  int64     `json:"totalEntries"`
	PoolCents     int64     `json:"pool_cents"`
	WinningIndex  *int64    `json:"winning_index,omitempty"`
	Winner        string    `json:"winner,omitempty"`
	PrizeCents    int64     `json:"prize_cents,omitempty"`
	HouseCutCents int64     `json:"house_cut_cents,omitempty"`
}

type RoundIDsResponse struct {
	UserID   string   `json:"userId"`
	RoundIDs []uint64 `json:"roundIds"`
}

type WithdrawHouseResponse struct {
	AmountCents int64 `json:"amount_cents"`
}
