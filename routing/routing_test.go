package routing

import (
	"context"
	"testing"

	"github.com/mantrid-go/mantridproxy/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEmptyTableIsNoHosts(t *testing.T) {
	tbl := NewTable()
	_, _, ok := tbl.Resolve("anything.test", "http")
	assert.False(t, ok)
	assert.True(t, tbl.IsEmpty())
}

func TestResolveExactBeatsSubdomain(t *testing.T) {
	tbl := NewTable()
	ctx := context.Background()
	tbl.Set(ctx, "example.com", Route{Kind: KindStatic, Params: Params{Type: "wildcard"}, AllowSubdomains: true})
	tbl.Set(ctx, "api.example.com", Route{Kind: KindStatic, Params: Params{Type: "exact"}, AllowSubdomains: false})

	route, matched, ok := tbl.Resolve("api.example.com", "http")
	require.True(t, ok)
	assert.Equal(t, "exact", route.Params.Type)
	assert.Equal(t, "api.example.com", matched)
}

func TestResolveSubdomainFallsBackToWildcard(t *testing.T) {
	tbl := NewTable()
	ctx := context.Background()
	tbl.Set(ctx, "example.com", Route{Kind: KindStatic, Params: Params{Type: "wildcard"}, AllowSubdomains: true})

	route, matched, ok := tbl.Resolve("api.example.com", "http")
	require.True(t, ok)
	assert.Equal(t, "wildcard", route.Params.Type)
	assert.Equal(t, "example.com", matched)
}

func TestResolveNoSubdomainsIsUnknown(t *testing.T) {
	tbl := NewTable()
	ctx := context.Background()
	tbl.Set(ctx, "example.com", Route{Kind: KindStatic, Params: Params{Type: "exact-only"}, AllowSubdomains: false})

	_, _, ok := tbl.Resolve("api.example.com", "http")
	assert.False(t, ok)
}

func TestResolveProtocolPrefixedKeyOutranksBareKey(t *testing.T) {
	tbl := NewTable()
	ctx := context.Background()
	tbl.Set(ctx, "example.com", Route{Kind: KindStatic, Params: Params{Type: "bare"}})
	tbl.Set(ctx, "https://example.com", Route{Kind: KindStatic, Params: Params{Type: "https"}})

	route, _, ok := tbl.Resolve("example.com", "https")
	require.True(t, ok)
	assert.Equal(t, "https", route.Params.Type)
}

func TestSetRetiresReplacedBackends(t *testing.T) {
	tbl := NewTable()
	ctx := context.Background()
	b1 := backend.New("127.0.0.1", 1)
	tbl.Set(ctx, "a.test", Route{Kind: KindProxy, Params: Params{Backends: []*backend.Backend{b1}}})
	assert.False(t, b1.Retired())

	b2 := backend.New("127.0.0.1", 2)
	tbl.Set(ctx, "a.test", Route{Kind: KindProxy, Params: Params{Backends: []*backend.Backend{b2}}})
	assert.True(t, b1.Retired())
	assert.False(t, b2.Retired())
}

func TestDeleteRetiresBackends(t *testing.T) {
	tbl := NewTable()
	ctx := context.Background()
	b1 := backend.New("127.0.0.1", 1)
	tbl.Set(ctx, "a.test", Route{Kind: KindProxy, Params: Params{Backends: []*backend.Backend{b1}}})
	tbl.Delete("a.test")
	assert.True(t, b1.Retired())
}

func TestParseKindAcceptsEveryInstalledKind(t *testing.T) {
	for _, s := range []string{"proxy", "static", "empty", "redirect", "spin", "alias", "unknown", "no_hosts"} {
		kind, err := ParseKind(s)
		require.NoError(t, err)
		assert.Equal(t, Kind(s), kind)
	}
}

func TestParseKindMirrorIsExplicitlyUnimplemented(t *testing.T) {
	_, err := ParseKind("mirror")
	assert.ErrorIs(t, err, ErrMirrorNotImplemented)
}

func TestParseKindUnknownStringIsError(t *testing.T) {
	_, err := ParseKind("bogus")
	assert.Error(t, err)
}
