// Package netaddr resolves the listen/dial addresses used by sentrytapd's
// control API and its clients, which accept either a host:port pair or a
// "unix:" prefixed socket path.
package netaddr

import (
	"path/filepath"
	"strings"
)

const (
	unixPrefix  = "unix:"
	httpPrefix  = "http://"
	httpsPrefix = "https://"
)

// ExtractUnixSocket returns the socket path if addr carries a "unix:"
// prefix, and the empty string otherwise.
func ExtractUnixSocket(addr string) (socketFile string) {
	if strings.HasPrefix(addr, unixPrefix) {
		socketFile = filepath.Clean(strings.TrimPrefix(addr, unixPrefix))
	}
	return
}

// ExtractSchemeAddr splits addr into its scheme (if any) and the remaining
// address, cleaning a unix socket path if present.
func ExtractSchemeAddr(addr string) (scheme string, address string) {
	switch {
	case strings.HasPrefix(addr, unixPrefix):
		return "", filepath.Clean(strings.TrimPrefix(addr, unixPrefix))
	case strings.HasPrefix(addr, httpPrefix):
		return httpPrefix, filepath.Clean(strings.TrimPrefix(addr, httpPrefix))
	case strings.HasPrefix(addr, httpsPrefix):
		return httpsPrefix, filepath.Clean(strings.TrimPrefix(addr, httpsPrefix))
	}
	return "", addr
}
