// Package config provides configuration types and loading for the quotes
// service.
//
// Configuration is read from a single YAML file. Unset fields keep the
// values from DefaultConfig, and ${VAR} or ${VAR:-default} references are
// expanded from the environment before parsing:
//
//	security:
//	  jwt:
//	    jwksUrl: ${JWKS_URL:-https://keycloak.local/realms/linqra/protocol/openid-connect/certs}
//	upstream:
//	  baseUrl: https://api-gateway.local:7777
//
// ValidateConfig reports every problem at once as ValidationErrors.
package config
