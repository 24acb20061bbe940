package dpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicDetectsHTTP(t *testing.T) {
	e := NewHeuristic()
	st := e.NewState()

	req := []byte("GET / HTTP/1.1\r\nHost: example.test\r\n\r\n")
	v := e.Dissect(st, 6, 51234, 80, req)

	require.True(t, v.Done)
	assert.Equal(t, ProtoHTTP, v.ProtocolID)

	md := e.ExtractMetadata(st)
	require.NotNil(t, md.Proto.HTTP)
	assert.Equal(t, "example.test", md.Proto.HTTP.URL)
	assert.Equal(t, "example.test", md.Host)
}

func TestHeuristicDetectsSSH(t *testing.T) {
	e := NewHeuristic()
	st := e.NewState()
	v := e.Dissect(st, 6, 51234, 22, []byte("SSH-2.0-OpenSSH_9.0\r\n"))
	require.True(t, v.Done)
	assert.Equal(t, ProtoSSH, v.ProtocolID)
}

func TestHeuristicFallsBackToTransportProto(t *testing.T) {
	e := NewHeuristic()
	st := e.NewState()
	v := e.Dissect(st, 6, 51234, 9999, []byte{0x01, 0x02, 0x03})
	assert.False(t, v.Done)
	assert.Equal(t, ProtoTCP, v.ProtocolID)
}
