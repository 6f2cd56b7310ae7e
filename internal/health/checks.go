package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/quotes-service/internal/auth/jwt"
)

// Check names.
const (
	CheckJWKS     = "jwks"
	CheckCache    = "cache"
	CheckUpstream = "upstream"
)

var errNoSigningKeys = errors.New("no signing keys loaded")

// KeySetStatser exposes key set statistics.
type KeySetStatser interface {
	Stats() jwt.JWKSStats
}

// Pinger is a dependency that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerStater exposes a circuit breaker state.
type BreakerStater interface {
	BreakerState() (gobreaker.State, bool)
}

// JWKSCheck fails while the key set holds no keys. Without keys every
// bearer token is rejected, so the check is critical.
func JWKSCheck(keySet KeySetStatser) Check {
	return Check{
		Name:     CheckJWKS,
		Critical: true,
		Fn: func(context.Context) error {
			stats := keySet.Stats()
			if stats.Keys > 0 {
				return nil
			}
			if stats.FetchErrors > 0 {
				return fmt.Errorf("%w after %d failed fetches", errNoSigningKeys, stats.FetchErrors)
			}
			return errNoSigningKeys
		},
	}
}

// PingCheck pings a shared store. Keys are still fetched directly when
// the store is down, so the check is not critical.
func PingCheck(name string, pinger Pinger) Check {
	return Check{
		Name: name,
		Fn:   pinger.Ping,
	}
}

// BreakerCheck degrades readiness while the upstream breaker is open.
func BreakerCheck(breaker BreakerStater) Check {
	return Check{
		Name: CheckUpstream,
		Fn: func(context.Context) error {
			state, ok := breaker.BreakerState()
			if ok && state == gobreaker.StateOpen {
				return fmt.Errorf("circuit breaker is %s", state)
			}
			return nil
		},
	}
}
