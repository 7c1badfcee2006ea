package domain

import (
	"fmt"
	"strings"
)

// AssetType is the instrument class of a market or position.
type AssetType int

const (
	AssetTypeSpot AssetType = iota
	AssetTypeFuture
)

// AssetTypes lists every instrument class the rebalancer trades.
var AssetTypes = []AssetType{AssetTypeSpot, AssetTypeFuture}

func (t AssetType) String() string {
	switch t {
	case AssetTypeSpot:
		return "spot"
	case AssetTypeFuture:
		return "future"
	default:
		return fmt.Sprintf("AssetType(%d)", int(t))
	}
}

func ParseAssetType(s string) (AssetType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot":
		return AssetTypeSpot, nil
	case "future", "futures", "perp", "perpetual":
		return AssetTypeFuture, nil
	}
	return 0, fmt.Errorf("unknown asset type %q", s)
}

// AssetPermissions is a bit set of what the account may hold.
type AssetPermissions uint8

const (
	PermissionNone             AssetPermissions = 0
	PermissionLongSpot         AssetPermissions = 1
	PermissionShortSpot        AssetPermissions = 2
	PermissionSpot             AssetPermissions = PermissionLongSpot | PermissionShortSpot
	PermissionPerpetualFutures AssetPermissions = 4
	PermissionLongSpotAndPerp  AssetPermissions = PermissionLongSpot | PermissionPerpetualFutures
	PermissionSpotAndPerp      AssetPermissions = PermissionSpot | PermissionPerpetualFutures
	PermissionExpiringFutures  AssetPermissions = 8
	PermissionAll              AssetPermissions = PermissionSpotAndPerp | PermissionExpiringFutures
)

var permissionNames = map[string]AssetPermissions{
	"none":               PermissionNone,
	"long_spot":          PermissionLongSpot,
	"short_spot":         PermissionShortSpot,
	"spot":               PermissionSpot,
	"perpetual_futures":  PermissionPerpetualFutures,
	"perp":               PermissionPerpetualFutures,
	"long_spot_and_perp": PermissionLongSpotAndPerp,
	"spot_and_perp":      PermissionSpotAndPerp,
	"expiring_futures":   PermissionExpiringFutures,
	"all":                PermissionAll,
}

// ParseAssetPermissions accepts a name such as "long_spot_and_perp" or a
// "|"-separated combination such as "long_spot|perp".
func ParseAssetPermissions(s string) (AssetPermissions, error) {
	var p AssetPermissions
	for _, part := range strings.Split(s, "|") {
		name := strings.ToLower(strings.TrimSpace(part))
		name = strings.ReplaceAll(name, "-", "_")
		v, ok := permissionNames[name]
		if !ok {
			return PermissionNone, fmt.Errorf("unknown asset permission %q", part)
		}
		p |= v
	}
	return p, nil
}

func (p AssetPermissions) Has(flag AssetPermissions) bool {
	return p&flag == flag
}

// AllowsAssetType reports whether markets of the given class may be traded.
func (p AssetPermissions) AllowsAssetType(t AssetType) bool {
	switch t {
	case AssetTypeSpot:
		return p&PermissionSpot != 0
	case AssetTypeFuture:
		return p.Has(PermissionPerpetualFutures)
	}
	return false
}

// RebalanceMode decides where inside the tolerance band a rebalance lands.
type RebalanceMode int

const (
	RebalanceCenter RebalanceMode = iota
	RebalanceEdge
)

func (m RebalanceMode) String() string {
	if m == RebalanceEdge {
		return "edge"
	}
	return "center"
}

func ParseRebalanceMode(s string) (RebalanceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "center":
		return RebalanceCenter, nil
	case "edge":
		return RebalanceEdge, nil
	}
	return RebalanceCenter, fmt.Errorf("unknown rebalance mode %q", s)
}
