package events

// Tipos de dono de uma requisição de aleatoriedade
const (
	OwnerKindWager = "WAGER"
	OwnerKindRound = "ROUND"
)

// Evento publicado no tópico "randomness_requested" quando um engine
// precisa de um valor aleatório para liquidar uma aposta ou sorteio
type RandomnessRequested struct {
	RequestID string `json:"request_id"` // uuid gerado pelo producer
	OwnerKind string `json:"owner_kind"` // "WAGER" | "ROUND"
	OwnerID   uint64 `json:"owner_id"`
	TsUnixMs  int64  `json:"ts_unix_ms"`
}
