package conf

const (
	serverKey = "server"

	// ServerAddr is the control API address of the running sentrytapd
	// instance (host:port, or "unix:/path/to/socket").
	ServerAddr = serverKey + ".addr"
	// RequestTimeout bounds how long a single control API call may take.
	RequestTimeout = "timeout"
)
