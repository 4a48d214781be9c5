package directory

import "strings"

// Slugify turns a free-form display name into a stable identifier fragment:
// lowercase, every non-alphanumeric run collapsed to a single underscore,
// leading/trailing underscores stripped. Never empty: a name with no usable
// characters becomes "unnamed". Slugs are for display and suggested keys
// only — composite keys are built from immutable ids, so two resources with
// colliding slugs stay distinguishable.
func Slugify(name string) string {
	var b strings.Builder
	lastUnderscore := true // suppress a leading underscore
	for _, r := range strings.ToLower(name) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	slug := strings.TrimRight(b.String(), "_")
	if slug == "" {
		return "unnamed"
	}
	return slug
}

// PermissionKey builds the composite key for one (user, resource) cell.
// The resource type is recoverable by convention from the third segment.
func PermissionKey(userID string, resourceType ResourceType, resourceID string) string {
	return "perm_" + userID + "_" + string(resourceType) + "_" + resourceID
}
