package sca

import (
	"fmt"
	"math/big"
	"strings"
)

// Policy decide si un pago requiere SCA.
type Policy struct {
	RequireForAll bool
	threshold     *big.Rat
	currency      string
}

// NewPolicy parsea el umbral de exención ("30.00") y su moneda ("EUR").
// Un umbral vacío deshabilita la exención.
func NewPolicy(requireForAll bool, threshold, currency string) (Policy, error) {
	p := Policy{RequireForAll: requireForAll, currency: strings.ToUpper(strings.TrimSpace(currency))}
	if strings.TrimSpace(threshold) == "" {
		return p, nil
	}
	r, ok := parseAmount(threshold)
	if !ok || r.Sign() < 0 {
		return Policy{}, fmt.Errorf("sca: invalid exemption threshold %q", threshold)
	}
	p.threshold = r
	return p, nil
}

// IsRequired es true salvo que amount <= umbral y currency sea la moneda de
// exención. Montos ilegibles o negativos siempre requieren SCA.
// Comparación decimal exacta (sin float).
func (p Policy) IsRequired(amount, currency string) bool {
	if p.RequireForAll || p.threshold == nil {
		return true
	}
	if !strings.EqualFold(strings.TrimSpace(currency), p.currency) {
		return true
	}
	a, ok := parseAmount(amount)
	if !ok || a.Sign() < 0 {
		return true
	}
	return a.Cmp(p.threshold) > 0
}

func parseAmount(s string) (*big.Rat, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "/eE") {
		return nil, false
	}
	return new(big.Rat).SetString(s)
}
