package directory

import (
	"fmt"
	"strconv"
	"strings"
)

// The host exposes its registries through several generations of payload
// shapes ("title" vs "sidebar_title" vs "name", numbers as strings, ...).
// Everything is normalized here, at the boundary; the rest of the service
// only ever sees the canonical User and Resource records.

// NormalizeUser converts a decoded host user payload into a User.
func NormalizeUser(raw map[string]any) (User, error) {
	id := stringField(raw, "id", "user_id")
	if id == "" {
		return User{}, fmt.Errorf("user payload missing id: %v", raw)
	}
	name := stringField(raw, "name", "display_name")
	if name == "" {
		name = "Unknown"
	}
	return User{
		ID:      id,
		Name:    name,
		IsAdmin: boolField(raw, "is_admin", "admin"),
	}, nil
}

// NormalizeResource converts a decoded host resource payload into a
// Resource of the given type. The host sends bare ids; the prefix is
// applied here. A payload that already carries the prefix is accepted.
func NormalizeResource(t ResourceType, raw map[string]any) (Resource, error) {
	id := stringField(raw, "id", "url_path", "panel_id", "area_id", "label_id")
	if id == "" {
		return Resource{}, fmt.Errorf("%s payload missing id: %v", t, raw)
	}
	if !strings.HasPrefix(id, t.Prefix()) {
		id = MakeID(t, id)
	}
	name := stringField(raw, "name", "title", "sidebar_title")
	if name == "" {
		name = BareID(id)
	}
	return Resource{
		ID:          id,
		Name:        name,
		Type:        t,
		Icon:        stringField(raw, "icon"),
		EntityCount: intField(raw, "entity_count", "entities"),
	}, nil
}

func stringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func boolField(raw map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		case float64:
			return v != 0
		}
	}
	return false
}

func intField(raw map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		case int64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}
