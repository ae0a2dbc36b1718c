package routing

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the routing configuration against the startup
// invariants and reports every violation at once, so operators can fix
// a broken file in a single edit cycle.
//
// Invariants:
//  1. microservice ids unique (case-insensitive)
//  2. every microservice has a queue
//  3. resource names unique within a microservice
//  4. action names unique within a resource
//  5. no empty or whitespace identifier at any level
func Validate(cfg Config) error {
	var violations []string

	seenMS := map[string]struct{}{}
	for i, ms := range cfg.Microservices {
		id := strings.TrimSpace(ms.ID)
		if id == "" {
			violations = append(violations, fmt.Sprintf("microservice #%d: empty id", i+1))
		} else {
			key := strings.ToLower(id)
			if _, dup := seenMS[key]; dup {
				violations = append(violations, fmt.Sprintf("microservice %q: duplicate id", ms.ID))
			}
			seenMS[key] = struct{}{}
		}
		if strings.TrimSpace(ms.Queue) == "" {
			violations = append(violations, fmt.Sprintf("microservice %q: empty queue", ms.ID))
		}

		seenRes := map[string]struct{}{}
		for j, res := range ms.Resources {
			name := strings.TrimSpace(res.Name)
			if name == "" {
				violations = append(violations, fmt.Sprintf("microservice %q: resource #%d: empty name", ms.ID, j+1))
			} else {
				key := strings.ToLower(name)
				if _, dup := seenRes[key]; dup {
					violations = append(violations, fmt.Sprintf("microservice %q: resource %q: duplicate name", ms.ID, res.Name))
				}
				seenRes[key] = struct{}{}
			}

			seenAct := map[string]struct{}{}
			for k, act := range res.Actions {
				actName := strings.TrimSpace(act.Name)
				if actName == "" {
					violations = append(violations, fmt.Sprintf("microservice %q: resource %q: action #%d: empty name", ms.ID, res.Name, k+1))
					continue
				}
				key := strings.ToLower(actName)
				if _, dup := seenAct[key]; dup {
					violations = append(violations, fmt.Sprintf("microservice %q: resource %q: action %q: duplicate name", ms.ID, res.Name, act.Name))
				}
				seenAct[key] = struct{}{}
			}
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return errors.New("invalid gateway routing configuration:\n  " + strings.Join(violations, "\n  "))
}
