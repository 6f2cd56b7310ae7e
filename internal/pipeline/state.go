package pipeline

import (
	"fmt"
	"net/http"
)

// State is a pipeline state.
type State int

// Pipeline states.
const (
	StateStart State = iota
	StateCertExtracted
	StateTokenVerified
	StateAuthorized
	StateDispatched
	StateRejectedNoCert
	StateRejectedInvalidToken
	StateRejectedForbidden
)

var stateNames = map[State]string{
	StateStart:                "START",
	StateCertExtracted:        "CERT_EXTRACTED",
	StateTokenVerified:        "TOKEN_VERIFIED",
	StateAuthorized:           "AUTHORIZED",
	StateDispatched:           "DISPATCHED",
	StateRejectedNoCert:       "REJECTED_NO_CERT",
	StateRejectedInvalidToken: "REJECTED_INVALID_TOKEN",
	StateRejectedForbidden:    "REJECTED_FORBIDDEN",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Rejected reports whether s is a terminal failure.
func (s State) Rejected() bool {
	switch s {
	case StateRejectedNoCert, StateRejectedInvalidToken, StateRejectedForbidden:
		return true
	default:
		return false
	}
}

// StatusCode returns the response status for a rejection, or 0.
func (s State) StatusCode() int {
	switch s {
	case StateRejectedNoCert, StateRejectedInvalidToken:
		return http.StatusUnauthorized
	case StateRejectedForbidden:
		return http.StatusForbidden
	default:
		return 0
	}
}

// transitions lists the legal successors of every state.
var transitions = map[State][]State{
	StateStart:         {StateCertExtracted},
	StateCertExtracted: {StateDispatched, StateTokenVerified, StateRejectedNoCert, StateRejectedInvalidToken, StateRejectedForbidden},
	StateTokenVerified: {StateAuthorized, StateRejectedForbidden},
	StateAuthorized:    {StateDispatched},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
