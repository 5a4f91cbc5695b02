package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitFloorsCommission(t *testing.T) {
	tests := []struct {
		name       string
		gross      int64
		rate       int64
		commission int64
		net        int64
	}{
		{name: "hundred dollars at fifteen percent", gross: 10000, rate: 1500, commission: 1500, net: 8500},
		{name: "fraction floors", gross: 999, rate: 1500, commission: 149, net: 850},
		{name: "one cent", gross: 1, rate: 1500, commission: 0, net: 1},
		{name: "zero rate", gross: 5000, rate: 0, commission: 0, net: 5000},
		{name: "full rate", gross: 5000, rate: 10000, commission: 5000, net: 0},
		{name: "rate above max is clamped", gross: 5000, rate: 12000, commission: 5000, net: 0},
		{name: "zero gross", gross: 0, rate: 1500, commission: 0, net: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commission, net := Split(tt.gross, tt.rate)
			assert.Equal(t, tt.commission, commission)
			assert.Equal(t, tt.net, net)
			assert.Equal(t, tt.gross, commission+net)
		})
	}
}

func TestSplitMatchesFloorForManyAmounts(t *testing.T) {
	for gross := int64(1); gross <= 2000; gross += 7 {
		for _, rate := range []int64{0, 1, 333, 1250, 1500, 2999, 10000} {
			commission, net := Split(gross, rate)
			assert.Equal(t, gross*rate/10000, commission)
			assert.Equal(t, gross-commission, net)
		}
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, int64(0), Clamp(-200))
	assert.Equal(t, int64(1500), Clamp(1500))
	assert.Equal(t, MaxRateBps, Clamp(10500))
}
