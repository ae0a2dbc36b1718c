// Package routing holds the gateway's routing policy: which microservice
// answers which URL segment, on which queue, and who may call it.
//
// The configuration tree is loaded once at startup, validated, and then
// only read. All name matching is case-insensitive.
package routing

import "strings"

// Scope controls whether a call requires authentication.
type Scope string

const (
	ScopePublic  Scope = "Public"
	ScopePrivate Scope = "Private"
)

// IsPublic reports whether the scope grants unauthenticated access.
func (s Scope) IsPublic() bool {
	return strings.EqualFold(string(s), string(ScopePublic))
}

// set reports whether the scope was declared at all. An empty scope
// inherits from the parent level.
func (s Scope) set() bool {
	return strings.TrimSpace(string(s)) != ""
}

// Implicit CRUD action names matched against the HTTP verb/shape.
const (
	ActionList   = "List"
	ActionGet    = "Get"
	ActionCreate = "Create"
	ActionUpdate = "Update"
	ActionDelete = "Delete"
)

// Config is the GatewayRouting section of the settings file.
type Config struct {
	Microservices []Microservice `json:"Microservices"`
}

// Microservice binds a URL segment to a broker queue.
type Microservice struct {
	ID        string     `json:"Id"`
	Queue     string     `json:"Queue"`
	Scope     Scope      `json:"Scope"`
	Resources []Resource `json:"Resources"`
}

// Resource is a named collection exposed by a microservice. Type is an
// opaque tag forwarded to the backend in the envelope.
type Resource struct {
	Name    string   `json:"Name"`
	Type    string   `json:"Type"`
	Scope   Scope    `json:"Scope"`
	Actions []Action `json:"Actions"`
}

// Action is a custom operation on a resource. Its name is also matched
// against the implicit CRUD names, which lets operators override the
// scope of a single CRUD verb.
type Action struct {
	Name  string `json:"Name"`
	Scope Scope  `json:"Scope"`
}
