package billing

import "fmt"

// Monetary amounts travel through this module as minor units (cents).
// Conversion to decimal currency happens only here, with integer division,
// so a provider amount of 4900 always renders as exactly "49.00".

// FormatMinorUnits renders a minor-unit amount as a two-decimal string.
func FormatMinorUnits(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// CommissionMinorUnits computes a commission in minor units from a gross
// amount and a rate in basis points, flooring the result. Flooring is the
// documented rounding rule: the platform never overpays a referrer by a
// sub-cent remainder. 15% of 4900 is 735.
func CommissionMinorUnits(amountCents int64, rateBasisPoints int64) int64 {
	if amountCents <= 0 || rateBasisPoints <= 0 {
		return 0
	}
	return amountCents * rateBasisPoints / 10000
}
