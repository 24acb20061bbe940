package flowfilter

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrytap/sentrytap/pkg/flowrecord"
)

func testFlow() *flowrecord.Record {
	flow := flowrecord.New(flowrecord.Identity{
		IfaceName: "eth0",
		LowerIP:   netip.MustParseAddr("10.0.0.1"),
		UpperIP:   netip.MustParseAddr("93.184.216.34"),
		UpperPort: 443,
	}, 0)
	flow.ProtocolName = "TLS"
	flow.ApplicationName = "Unknown"
	flow.DNSHostName = "example.test"
	return flow
}

func TestSimpleEquality(t *testing.T) {
	expr, err := Parse("proto==tls")
	require.NoError(t, err)
	assert.True(t, expr.Eval(testFlow()))

	expr, err = Parse("proto==http")
	require.NoError(t, err)
	assert.False(t, expr.Eval(testFlow()))
}

func TestAndOrPrecedence(t *testing.T) {
	expr, err := Parse("proto==tls || proto==http && port==80")
	require.NoError(t, err)
	assert.True(t, expr.Eval(testFlow()))
}

func TestNegationAndGrouping(t *testing.T) {
	expr, err := Parse("!(proto==http)")
	require.NoError(t, err)
	assert.True(t, expr.Eval(testFlow()))
}

func TestPortRange(t *testing.T) {
	expr, err := Parse("port==400-500")
	require.NoError(t, err)
	assert.True(t, expr.Eval(testFlow()))

	expr, err = Parse("port==1-100")
	require.NoError(t, err)
	assert.False(t, expr.Eval(testFlow()))
}

func TestCIDRMatch(t *testing.T) {
	expr, err := Parse("net==93.184.216.0/24")
	require.NoError(t, err)
	assert.True(t, expr.Eval(testFlow()))

	expr, err = Parse("net==10.1.0.0/24")
	require.NoError(t, err)
	assert.False(t, expr.Eval(testFlow()))
}

func TestHostPredicate(t *testing.T) {
	expr, err := Parse("host==example.test")
	require.NoError(t, err)
	assert.True(t, expr.Eval(testFlow()))
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("proto==")
	assert.Error(t, err)

	_, err = Parse("(proto==tls")
	assert.Error(t, err)

	_, err = Parse("proto~~tls")
	assert.Error(t, err)
}
