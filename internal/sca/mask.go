package sca

import "strings"

// MaskTarget oculta el destino de entrega: "+34******789", "j***@e***.com",
// "****a1b2" (token de dispositivo).
func MaskTarget(method Method, target string) string {
	target = strings.TrimSpace(target)
	switch method {
	case MethodEmail:
		return maskEmail(target)
	case MethodSMS:
		return maskKeep(target, 3, 3)
	default:
		return maskKeep(target, 0, 4)
	}
}

func maskKeep(s string, head, tail int) string {
	r := []rune(s)
	if len(r) <= head+tail {
		return strings.Repeat("*", len(r))
	}
	return string(r[:head]) + strings.Repeat("*", len(r)-head-tail) + string(r[len(r)-tail:])
}

func maskEmail(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || local == "" || domain == "" {
		return maskKeep(s, 0, 0)
	}
	host, tld := domain, ""
	if i := strings.LastIndex(domain, "."); i > 0 {
		host, tld = domain[:i], domain[i:]
	}
	first := func(x string) string {
		r := []rune(x)
		return string(r[:1]) + "***"
	}
	return first(local) + "@" + first(host) + tld
}
