package logging

// Encoding selects the wire format used by the global logger's handler.
type Encoding string

const (
	EncodingJSON   Encoding = "json"
	EncodingLogfmt Encoding = "logfmt"
	EncodingPlain  Encoding = "plain"
)
