package category

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseAddr(s string) netip.Addr {
	a, err := netip.ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestLoadJSONModernForm(t *testing.T) {
	src := `{
		"application_tag_index": {"streaming": 1, "social": 2},
		"application_index": {"1": [100, 101], "2": [200]}
	}`
	apps, protos, err := LoadJSON(strings.NewReader(src))
	require.NoError(t, err)

	id, ok := apps.CategoryID("streaming")
	require.True(t, ok)
	assert.EqualValues(t, 1, id)

	assert.True(t, apps.IsMember(1, 100))
	assert.True(t, apps.IsMember(1, 101))
	assert.False(t, apps.IsMember(1, 200))
	assert.False(t, apps.IsMember(2, 100))

	assert.NotNil(t, protos)
	assert.False(t, protos.IsMember(1, 100))
}

func TestLoadJSONLegacyForm(t *testing.T) {
	src := `{
		"protocol_tag_index": {"web": 5},
		"protocol_index": {"web": [9000, 9001]}
	}`
	_, protos, err := LoadJSON(strings.NewReader(src))
	require.NoError(t, err)

	assert.True(t, protos.IsMember(5, 9000))
	assert.True(t, protos.IsMember(5, 9001))
	assert.False(t, protos.IsMember(5, 9002))
}

func TestIsMemberReturnsTrueOnMatch(t *testing.T) {
	// Regression guard for the corrected membership semantics: a positive
	// match must return true, not fall through to a hard-coded false.
	ix := newIndex()
	ix.idToSet[1] = map[uint32]struct{}{42: {}}
	assert.True(t, ix.IsMember(1, 42))
	assert.False(t, ix.IsMember(1, 43))
	assert.False(t, ix.IsMember(2, 42))
}

func TestParseCategoryTag(t *testing.T) {
	tag, ok := parseCategoryTag("10-streaming.conf")
	require.True(t, ok)
	assert.Equal(t, "streaming", tag)

	_, ok = parseCategoryTag("malformed.conf")
	assert.False(t, ok)
}

func TestDomainNetworkIndexLookup(t *testing.T) {
	dni := &DomainNetworkIndex{
		domains:  make(map[uint32]map[string]struct{}),
		networks: make(map[uint32]*radixNode),
	}
	dni.addDomain(1, "example.test")
	require.NoError(t, dni.addNetwork(1, "10.0.0.0/8"))

	id, ok := dni.LookupDomain("www.example.test")
	require.True(t, ok)
	assert.EqualValues(t, 1, id)

	_, ok = dni.LookupDomain("example.other")
	assert.False(t, ok)

	id, ok = dni.LookupNetwork(mustParseAddr("10.1.2.3"))
	require.True(t, ok)
	assert.EqualValues(t, 1, id)

	_, ok = dni.LookupNetwork(mustParseAddr("192.168.1.1"))
	assert.False(t, ok)
}

func TestStoreSwapAndSnapshot(t *testing.T) {
	var s Store
	apps, protos, err := LoadJSON(strings.NewReader(`{}`))
	require.NoError(t, err)

	s.Swap(apps, protos, nil)
	gotApps, gotProtos, gotDNI := s.Snapshot()
	assert.Same(t, apps, gotApps)
	assert.Same(t, protos, gotProtos)
	assert.Nil(t, gotDNI)
}
