package dto

// Corpo de POST /wagers
type PlaceWagerRequest struct {
	UserID     string `json:"userId"`
	StakeCents int64  `json:"stake_cents"`
	Prediction int    `json:"prediction"` // 1..100
}

// Corpo de POST /rounds/{id}/entries
type BuyEntriesRequest struct {
	UserID string `json:"userId"`
	Count  int64  `json:"count"`
}

// Corpo de POST /admin/limits
type UpdateLimitsRequest struct {
	MinStakeCents   int64 `json:"min_stake_cents"`
	MaxStakeCents   int64 `json:"max_stake_cents"`
	EntryPriceCents int64 `json:"entry_price_cents,omitempty"` // 0 = não alterar
}

// Corpo de POST /admin/withdraw-house
type WithdrawHouseRequest struct {
	ToUserID string `json:"toUserId"`
}
