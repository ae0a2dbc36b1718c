package routing

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by ResolveType when the microservice or the
// resource does not exist in the routing table.
var ErrNotFound = errors.New("routing: not found")

// Table is the read-only lookup structure built from a validated Config.
// All lookups are case-insensitive and O(1).
type Table struct {
	order []string // ids in configuration order, original casing
	index map[string]*msEntry
}

type msEntry struct {
	ms        Microservice
	resources map[string]*resEntry
}

type resEntry struct {
	res     Resource
	actions map[string]Action
}

// NewTable indexes the configuration for lookups. The config is assumed
// to have passed Validate.
func NewTable(cfg Config) *Table {
	t := &Table{index: make(map[string]*msEntry, len(cfg.Microservices))}
	for _, ms := range cfg.Microservices {
		entry := &msEntry{ms: ms, resources: make(map[string]*resEntry, len(ms.Resources))}
		for _, res := range ms.Resources {
			re := &resEntry{res: res, actions: make(map[string]Action, len(res.Actions))}
			for _, act := range res.Actions {
				re.actions[strings.ToLower(act.Name)] = act
			}
			entry.resources[strings.ToLower(res.Name)] = re
		}
		t.order = append(t.order, ms.ID)
		t.index[strings.ToLower(ms.ID)] = entry
	}
	return t
}

func (t *Table) microservice(ms string) *msEntry {
	return t.index[strings.ToLower(ms)]
}

func (t *Table) resource(ms, resource string) *resEntry {
	entry := t.microservice(ms)
	if entry == nil {
		return nil
	}
	return entry.resources[strings.ToLower(resource)]
}

// ResolveQueue returns the broker queue bound to the microservice.
// An unknown microservice returns ok=false rather than an error so the
// HTTP layer can answer 400 instead of crashing.
func (t *Table) ResolveQueue(ms string) (string, bool) {
	entry := t.microservice(ms)
	if entry == nil {
		return "", false
	}
	return entry.ms.Queue, true
}

// ResolveType returns the resource-type tag declared for the resource.
func (t *Table) ResolveType(ms, resource string) (string, error) {
	if t.microservice(ms) == nil {
		return "", fmt.Errorf("microservice %q: %w", ms, ErrNotFound)
	}
	re := t.resource(ms, resource)
	if re == nil {
		return "", fmt.Errorf("resource %q/%q: %w", ms, resource, ErrNotFound)
	}
	return re.res.Type, nil
}

// IsResourceAllowed reports whether the microservice exists and exposes
// the resource.
func (t *Table) IsResourceAllowed(ms, resource string) bool {
	return t.resource(ms, resource) != nil
}

// IsActionAllowed reports whether the action may be invoked on the
// resource. A resource declaring zero actions allows any action name;
// otherwise the action must be declared.
func (t *Table) IsActionAllowed(ms, resource, action string) bool {
	re := t.resource(ms, resource)
	if re == nil {
		return false
	}
	if len(re.actions) == 0 {
		return true
	}
	_, ok := re.actions[strings.ToLower(action)]
	return ok
}

// IsPublic computes the effective scope of (ms, resource, action).
// Action may be empty. Resolution order: action scope, then resource
// scope, then microservice scope; a missing microservice or resource is
// never public.
func (t *Table) IsPublic(ms, resource, action string) bool {
	entry := t.microservice(ms)
	if entry == nil {
		return false
	}
	re := entry.resources[strings.ToLower(resource)]
	if re == nil {
		return false
	}
	if action != "" {
		if act, ok := re.actions[strings.ToLower(action)]; ok && act.Scope.set() {
			return act.Scope.IsPublic()
		}
	}
	if re.res.Scope.set() {
		return re.res.Scope.IsPublic()
	}
	return entry.ms.Scope.IsPublic()
}

// Microservices returns the configured microservice ids in order.
func (t *Table) Microservices() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}
