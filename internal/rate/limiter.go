// Package rate implementa los limitadores por IP del cliente que alimentan
// la detección de anomalías del gateway.
//
// Las claves se normalizan con ClientKey: una IPv4 cuenta sola, una IPv6
// cuenta por su prefijo /64 (lo que un cliente recibe de su proveedor), así
// rotar direcciones dentro del mismo bloque no multiplica el presupuesto.
package rate

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Familias de clave, usadas como label de métricas.
const (
	FamilyIPv4  = "ipv4"
	FamilyIPv6  = "ipv6"
	FamilyOther = "other"
)

const ipv6PrefixBits = 64

// Result es la decisión del limitador para un hit.
type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
	// Key es la clave normalizada a la que se imputó el hit.
	Key    string
	Family string
}

type Limiter interface {
	Allow(ctx context.Context, clientIP string) (Result, error)
}

// ClientKey normaliza la IP del cliente a la clave que se cuenta. Acepta
// "ip" o "ip:puerto"; lo que no parsea como IP se usa recortado y en
// minúsculas.
func ClientKey(clientIP string) (key, family string) {
	raw := strings.TrimSpace(clientIP)
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		ap, perr := netip.ParseAddrPort(raw)
		if perr != nil {
			return strings.ToLower(raw), FamilyOther
		}
		addr = ap.Addr()
	}
	addr = addr.Unmap().WithZone("")
	if addr.Is4() {
		return addr.String(), FamilyIPv4
	}
	p, err := addr.Prefix(ipv6PrefixBits)
	if err != nil {
		return addr.String(), FamilyIPv6
	}
	return p.String(), FamilyIPv6
}

// hitScript incrementa el contador de la ventana y fija su vencimiento en el
// primer hit, en una sola ida a Redis.
var hitScript = rdb.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// RedisLimiter cuenta hits por ventana fija en Redis, compartida entre
// réplicas del gateway.
type RedisLimiter struct {
	client *rdb.Client
	prefix string
	max    int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter crea el limitador. prefix vacío usa "anomaly:".
func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "anomaly:"
	}
	return &RedisLimiter{client: client, prefix: prefix, max: int64(max), window: window, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, clientIP string) (Result, error) {
	key, family := ClientKey(clientIP)
	start := l.now().UTC().Truncate(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, key, start.Unix())

	vals, err := hitScript.Run(ctx, l.client, []string{redisKey}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate: redis hit: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, errors.New("rate: unexpected redis reply")
	}
	hits, ttl := vals[0], time.Duration(vals[1])*time.Millisecond
	if ttl <= 0 {
		ttl = start.Add(l.window).Sub(l.now().UTC())
	}

	res := Result{
		Allowed:     hits <= l.max,
		Remaining:   max(l.max-hits, 0),
		CurrentHits: hits,
		WindowTTL:   ttl,
		Key:         key,
		Family:      family,
	}
	if !res.Allowed {
		res.RetryAfter = ttl
	}
	return res, nil
}
