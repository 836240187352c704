package normalize

import "github.com/shopspring/decimal"

// roundHalfUp rounds v to places decimals, halves away from zero. Values
// go through their shortest decimal representation first, so 2.675 rounds
// to 2.68 rather than suffering from binary float error.
func roundHalfUp(v float64, places int32) float64 {
	rounded, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return rounded
}

func roundPtr(v *float64, places int32) *float64 {
	if v == nil {
		return nil
	}
	r := roundHalfUp(*v, places)
	return &r
}
