package domain

import "strings"

// minorUnitOverrides lists ISO 4217 currencies whose minor unit is not two
// decimal places.
var minorUnitOverrides = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0, "KRW": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// MinorUnits returns the number of decimal places between a currency's major
// and minor unit. Amounts in this module are always held in minor units.
func MinorUnits(currency string) int32 {
	if n, ok := minorUnitOverrides[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return n
	}
	return 2
}
