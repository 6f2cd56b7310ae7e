package jwt

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"
)

// RealmScope is the role-scope name used for realm roles in RoleScopes.
const RealmScope = "realm"

// NumericDate is a JWT timestamp in seconds since the epoch.
type NumericDate struct {
	time.Time
}

// NewNumericDate wraps t, truncated to whole seconds.
func NewNumericDate(t time.Time) *NumericDate {
	return &NumericDate{Time: t.Truncate(time.Second)}
}

// UnmarshalJSON accepts integer or fractional seconds.
func (d *NumericDate) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return errors.New("numeric date must be a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errors.New("numeric date out of range")
	}
	sec, frac := math.Modf(f)
	d.Time = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	return nil
}

// MarshalJSON writes whole seconds.
func (d NumericDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Unix())
}

// Audience accepts both the string and the array form of "aud".
type Audience []string

// UnmarshalJSON implements json.Unmarshaler.
func (a *Audience) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(b), []byte(`"`)) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Audience{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*a = list
	return nil
}

// RoleSet is the {"roles": [...]} object used by realm_access and each
// resource_access entry.
type RoleSet struct {
	Roles []string `json:"roles,omitempty"`
}

// Has reports whether role is present. A nil RoleSet has no roles.
func (r *RoleSet) Has(role string) bool {
	if r == nil {
		return false
	}
	for _, candidate := range r.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// Claims is the typed claim set of a verified token. realm_access and
// resource_access are optional and decoded once.
type Claims struct {
	Issuer            string             `json:"iss,omitempty"`
	Subject           string             `json:"sub,omitempty"`
	Audience          Audience           `json:"aud,omitempty"`
	ExpiresAt         *NumericDate       `json:"exp,omitempty"`
	NotBefore         *NumericDate       `json:"nbf,omitempty"`
	IssuedAt          *NumericDate       `json:"iat,omitempty"`
	ID                string             `json:"jti,omitempty"`
	AuthorizedParty   string             `json:"azp,omitempty"`
	PreferredUsername string             `json:"preferred_username,omitempty"`
	Scope             string             `json:"scope,omitempty"`
	RealmAccess       *RoleSet           `json:"realm_access,omitempty"`
	ResourceAccess    map[string]RoleSet `json:"resource_access,omitempty"`
}

// ParseClaims decodes a JSON claim set.
func ParseClaims(payload []byte) (*Claims, error) {
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// RealmRoles returns the realm role list, or nil when realm_access is absent.
func (c *Claims) RealmRoles() []string {
	if c.RealmAccess == nil {
		return nil
	}
	return c.RealmAccess.Roles
}

// ClientRoles returns the role set of the named client. found is false
// when resource_access has no entry for it.
func (c *Claims) ClientRoles(clientID string) (*RoleSet, bool) {
	set, ok := c.ResourceAccess[clientID]
	if !ok {
		return nil, false
	}
	return &set, true
}

// HasRealmRole reports whether realm_access.roles contains role.
func (c *Claims) HasRealmRole(role string) bool {
	return c.RealmAccess.Has(role)
}

// HasClientRole reports whether resource_access[clientID].roles contains role.
func (c *Claims) HasClientRole(clientID, role string) bool {
	set, ok := c.ClientRoles(clientID)
	return ok && set.Has(role)
}

// RoleScopes maps each role scope to its roles: RealmScope for realm roles
// and the client id for every resource_access entry.
func (c *Claims) RoleScopes() map[string][]string {
	scopes := make(map[string][]string, len(c.ResourceAccess)+1)
	if c.RealmAccess != nil {
		scopes[RealmScope] = append([]string(nil), c.RealmAccess.Roles...)
	}
	for client, set := range c.ResourceAccess {
		scopes[client] = append([]string(nil), set.Roles...)
	}
	return scopes
}

// ClientIDs returns the resource_access keys in sorted order.
func (c *Claims) ClientIDs() []string {
	ids := make([]string, 0, len(c.ResourceAccess))
	for id := range c.ResourceAccess {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
