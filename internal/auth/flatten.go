package auth

import "encoding/json"

// Keycloak nests granted roles under realm_access and resource_access.
// FlattenRoles normalizes them into the flat roles claim the rest of
// the gateway consumes:
//
//	realm_access.roles[i]              → "realm:<role>"
//	resource_access.<client>.roles[i]  → "<client>:<role>"
//
// The transformation marks the claims with a sentinel and is a no-op on
// a second pass, so stacked middleware cannot duplicate roles. Parse
// errors are swallowed: a token may legitimately lack these claims.

const flattenedSentinel = "__kc_roles_flattened"

// FlattenRoles mutates claims in place and returns the flat role list.
func FlattenRoles(claims map[string]any) []string {
	existing := stringSlice(claims["roles"])

	if _, done := claims[flattenedSentinel]; done {
		return existing
	}

	seen := make(map[string]struct{}, len(existing))
	roles := make([]string, 0, len(existing))
	add := func(role string) {
		if _, dup := seen[role]; dup {
			return
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	for _, r := range existing {
		add(r)
	}

	if realm, ok := asObject(claims["realm_access"]); ok {
		for _, r := range stringSlice(realm["roles"]) {
			add("realm:" + r)
		}
	}

	if clients, ok := asObject(claims["resource_access"]); ok {
		for clientID, v := range clients {
			access, ok := asObject(v)
			if !ok {
				continue
			}
			for _, r := range stringSlice(access["roles"]) {
				add(clientID + ":" + r)
			}
		}
	}

	claims["roles"] = roles
	claims[flattenedSentinel] = "1"
	return roles
}

// asObject accepts the claim either as a decoded object or as a JSON
// string (the form identity providers use inside flat token claims).
func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		var obj map[string]any
		if err := json.Unmarshal([]byte(t), &obj); err != nil {
			return nil, false
		}
		return obj, true
	default:
		return nil, false
	}
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return nil
	}
}
