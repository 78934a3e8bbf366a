package domain

// Identity is the set of unauthenticated client attributes a server may key
// throttling on. A fresh one is generated for every attempt.
type Identity struct {
	SourceAddress   string
	ClientSignature string
	Headers         map[string]string
}
