package reserve

import (
	"math/big"
	"time"
)

// Evaluate decides whether an issuance may proceed given the current time,
// the circulating supply view and the latest reserve reading. Checks run in
// a fixed order: answer validity, then freshness, then sufficiency. A nil
// feed value counts as missing and therefore invalid.
//
// Freshness is inclusive at the boundary: a reading observed exactly
// heartbeat ago is still fresh. Sufficiency is inclusive too: reserves equal
// to supply allow. Supply and reserves are compared after scaling the side
// with fewer decimals up to the larger precision, so no fractional units are
// ever discarded.
func Evaluate(now time.Time, underlying UnderlyingAssetView, reading FeedReading, heartbeat time.Duration) Decision {
	details := map[string]interface{}{
		"heartbeat_seconds": int64(heartbeat / time.Second),
	}

	if reading.Value == nil || reading.Value.Sign() <= 0 {
		if reading.Value != nil {
			details["feed_value"] = reading.Value.String()
		}
		return Decision{Allow: false, Reason: ReasonInvalidAnswer, Details: details}
	}

	details["feed_value"] = reading.Value.String()
	details["feed_decimals"] = reading.Decimals
	details["observed_at"] = reading.ObservedAt.UTC().Format(time.RFC3339)
	details["age_seconds"] = int64(now.Sub(reading.ObservedAt) / time.Second)

	oldestAllowed := now.Add(-heartbeat)
	if reading.ObservedAt.Before(oldestAllowed) {
		return Decision{Allow: false, Reason: ReasonStaleAnswer, Details: details}
	}

	supply := underlying.TotalSupply
	if supply == nil {
		supply = new(big.Int)
	}
	details["total_supply"] = supply.String()
	details["supply_decimals"] = underlying.Decimals

	normSupply, normReserves := normalize(supply, underlying.Decimals, reading.Value, reading.Decimals)
	details["normalized_supply"] = normSupply.String()
	details["normalized_reserves"] = normReserves.String()

	if normSupply.Cmp(normReserves) > 0 {
		return Decision{Allow: false, Reason: ReasonInsufficientReserves, Details: details}
	}

	return Decision{Allow: true, Reason: ReasonNone, Details: details}
}

// normalize brings supply and reserves onto the larger decimal scale.
// Arbitrary-precision multiplication stands in for checked scaling: the
// overflow abort of fixed-width arithmetic has no reachable equivalent here.
func normalize(supply *big.Int, supplyDecimals uint8, reserves *big.Int, reserveDecimals uint8) (*big.Int, *big.Int) {
	switch {
	case supplyDecimals < reserveDecimals:
		supply = scaleUp(supply, reserveDecimals-supplyDecimals)
	case supplyDecimals > reserveDecimals:
		reserves = scaleUp(reserves, supplyDecimals-reserveDecimals)
	}
	return supply, reserves
}

func scaleUp(v *big.Int, diff uint8) *big.Int {
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(diff)), nil)
	return new(big.Int).Mul(v, factor)
}
