package storage

import (
	"context"
	"regexp"
)

// instanceKey is a private type for the instance context key.
type instanceKey struct{}

var instanceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidInstanceName reports whether name may be used as an instance name or
// table prefix. Only ASCII letters, digits and underscores are allowed, so a
// valid name can be embedded in an SQL identifier.
func ValidInstanceName(name string) bool {
	return instanceNamePattern.MatchString(name)
}

// SetInstance injects the table prefix of the selected instance into ctx.
func SetInstance(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, instanceKey{}, prefix)
}

// GetInstance extracts the table prefix from the context. Returns an empty
// string if no instance is selected (default tables).
func GetInstance(ctx context.Context) string {
	if v, ok := ctx.Value(instanceKey{}).(string); ok {
		return v
	}
	return ""
}

// TableName returns the table holding base for the instance in ctx,
// e.g. "chronicle_clients" or "chronicle_<prefix>_clients".
func TableName(ctx context.Context, base string) string {
	return PrefixedTableName(GetInstance(ctx), base)
}

// PrefixedTableName is TableName for an explicit prefix. Invalid prefixes
// fall back to the default table.
func PrefixedTableName(prefix, base string) string {
	if prefix == "" || !ValidInstanceName(prefix) {
		return "chronicle_" + base
	}
	return "chronicle_" + prefix + "_" + base
}
