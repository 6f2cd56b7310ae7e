package jwt

import (
	"context"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeySet resolves the public key that verifies a token signed with alg.
// An empty kid selects the only compatible key in the set.
type KeySet interface {
	LookupKey(ctx context.Context, kid, alg string) (jwk.Key, error)
}

// StaticKeySet serves keys from a fixed JWK set.
type StaticKeySet struct {
	set jwk.Set
}

// NewStaticKeySet creates a key set over set.
func NewStaticKeySet(set jwk.Set) *StaticKeySet {
	return &StaticKeySet{set: set}
}

// LookupKey implements KeySet.
func (s *StaticKeySet) LookupKey(_ context.Context, kid, alg string) (jwk.Key, error) {
	if s.set == nil || s.set.Len() == 0 {
		return nil, NewKeyError(kid, "key set is empty", ErrKeySetUnavailable)
	}
	key, ok := selectKey(s.set, kid, alg)
	if !ok {
		return nil, NewKeyError(kid, "no matching key", ErrKeyNotFound)
	}
	return key, nil
}

// selectKey finds the key for kid that can verify alg. Without a kid the
// match must be unambiguous.
func selectKey(set jwk.Set, kid, alg string) (jwk.Key, bool) {
	if kid != "" {
		key, ok := set.LookupKeyID(kid)
		if !ok || !keyCompatible(key, alg) {
			return nil, false
		}
		return key, true
	}

	var match jwk.Key
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok || !keyCompatible(key, alg) {
			continue
		}
		if match != nil {
			return nil, false
		}
		match = key
	}
	return match, match != nil
}

// keyCompatible reports whether key may verify alg: a declared alg must
// match, encryption keys are skipped, and the key type must fit the family.
func keyCompatible(key jwk.Key, alg string) bool {
	if declared := key.Algorithm().String(); declared != "" && declared != alg {
		return false
	}
	if key.KeyUsage() == string(jwk.ForEncryption) {
		return false
	}
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		return key.KeyType() == jwa.RSA
	case strings.HasPrefix(alg, "ES"):
		return key.KeyType() == jwa.EC
	default:
		return false
	}
}
