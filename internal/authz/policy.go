package authz

import (
	"errors"

	"github.com/vyrodovalexey/quotes-service/internal/config"
)

// Default role requirements.
const (
	DefaultRealmRole  = config.DefaultRealmRole
	DefaultClientID   = config.DefaultClientID
	DefaultClientRole = config.DefaultClientRole
)

// Policy names the two roles a caller must hold.
type Policy struct {
	RealmRole  string
	ClientID   string
	ClientRole string
}

// DefaultPolicy returns the gateway administrator policy.
func DefaultPolicy() Policy {
	return Policy{
		RealmRole:  DefaultRealmRole,
		ClientID:   DefaultClientID,
		ClientRole: DefaultClientRole,
	}
}

// PolicyFromConfig builds a Policy from the roles section.
func PolicyFromConfig(cfg *config.RolesConfig) Policy {
	if cfg == nil {
		return DefaultPolicy()
	}
	return Policy{
		RealmRole:  cfg.RealmRole,
		ClientID:   cfg.ClientID,
		ClientRole: cfg.ClientRole,
	}
}

// Validate checks that every role name is set.
func (p Policy) Validate() error {
	var errs []error
	if p.RealmRole == "" {
		errs = append(errs, errors.New("realm role is required"))
	}
	if p.ClientID == "" {
		errs = append(errs, errors.New("client id is required"))
	}
	if p.ClientRole == "" {
		errs = append(errs, errors.New("client role is required"))
	}
	return errors.Join(errs...)
}
