package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	tests := map[string]int32{
		"CAD":  2,
		"usd":  2,
		"JPY":  0,
		" krw": 0,
		"KWD":  3,
		"":     2,
	}
	for currency, want := range tests {
		assert.Equal(t, want, MinorUnits(currency), currency)
	}
}
