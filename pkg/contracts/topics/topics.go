package topics

// Nomes padrão dos tópicos Kafka do fluxo de aleatoriedade
const (
	RandomnessRequested    = "randomness_requested"
	RandomnessFulfilled    = "randomness_fulfilled"
	RandomnessFulfilledDLQ = "randomness_fulfilled_dlq"
)
