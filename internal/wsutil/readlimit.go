package wsutil

// defaultMaxEnvelopeBytes mirrors the broker's default max_message_size.
const defaultMaxEnvelopeBytes = 64 * 1024

// ReadLimit returns the per-message websocket read limit in bytes for a
// configured envelope size bound (zero/negative means "use the default").
//
// One websocket text message carries exactly one JSON envelope, so the limit
// is the envelope bound itself; the gateway needs no framing slack.
func ReadLimit(maxEnvelopeBytes int) int64 {
	if maxEnvelopeBytes <= 0 {
		return defaultMaxEnvelopeBytes
	}
	return int64(maxEnvelopeBytes)
}
