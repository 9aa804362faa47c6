package events

// Evento emitido pelo oráculo em resposta a um randomness_requested.
// O campo Oracle identifica o remetente; o dispatcher só aceita a
// identidade configurada como confiável.
type RandomnessFulfilled struct {
	RequestID   string `json:"request_id"`
	RandomValue uint64 `json:"random_value"`
	Oracle      string `json:"oracle"`
	TsUnixMs    int64  `json:"ts_unix_ms"`
}
