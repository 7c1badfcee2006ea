package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssetPermissions(t *testing.T) {
	cases := map[string]AssetPermissions{
		"long_spot_and_perp": PermissionLongSpotAndPerp,
		"Spot":               PermissionSpot,
		"long_spot|perp":     PermissionLongSpotAndPerp,
		"spot-and-perp":      PermissionSpotAndPerp,
		"all":                PermissionAll,
	}
	for in, want := range cases {
		got, err := ParseAssetPermissions(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAssetPermissions("margin")
	assert.Error(t, err)
}

func TestAssetPermissionsAllowsAssetType(t *testing.T) {
	assert.True(t, PermissionLongSpot.AllowsAssetType(AssetTypeSpot))
	assert.False(t, PermissionLongSpot.AllowsAssetType(AssetTypeFuture))
	assert.True(t, PermissionPerpetualFutures.AllowsAssetType(AssetTypeFuture))
	assert.False(t, PermissionPerpetualFutures.AllowsAssetType(AssetTypeSpot))
	assert.True(t, PermissionSpotAndPerp.Has(PermissionShortSpot))
	assert.False(t, PermissionLongSpotAndPerp.Has(PermissionShortSpot))
}

func TestParseRebalanceMode(t *testing.T) {
	m, err := ParseRebalanceMode("EDGE")
	require.NoError(t, err)
	assert.Equal(t, RebalanceEdge, m)

	m, err = ParseRebalanceMode("")
	require.NoError(t, err)
	assert.Equal(t, RebalanceCenter, m)

	_, err = ParseRebalanceMode("middle")
	assert.Error(t, err)
}

func TestSplitTickerAndAliases(t *testing.T) {
	token, quote := SplitTicker("BTC/USDT")
	assert.Equal(t, "BTC", token)
	assert.Equal(t, "USDT", quote)

	token, quote = SplitTicker("ETH")
	assert.Equal(t, "ETH", token)
	assert.Empty(t, quote)

	aliases := NewTickerAliases(map[string]string{"BTC": "UBTC"})
	alias, ok := aliases.TryGetAlias("BTC")
	assert.True(t, ok)
	assert.Equal(t, "UBTC", alias)
	ticker, ok := aliases.TryGetTicker("UBTC")
	assert.True(t, ok)
	assert.Equal(t, "BTC", ticker)
	assert.Equal(t, "ETH", aliases.Canonical("ETH"))
	assert.Equal(t, "UBTC", aliases.VenueName("BTC"))

	var none *TickerAliases
	assert.Equal(t, "SOL", none.Canonical("SOL"))
}

func TestFloorToStep(t *testing.T) {
	assert.True(t, FloorToStep(d("1.2345"), d("0.01")).Equal(d("1.23")))
	assert.True(t, FloorToStep(d("-1.55"), d("0.1")).Equal(d("-1.6")))
	assert.True(t, FloorToStep(d("7"), d("0")).Equal(d("7")))
}
