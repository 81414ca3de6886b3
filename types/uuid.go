package types

import "regexp"

// Only the lowercase canonical form is accepted, which is what the gateway generates.
var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// IsUUID checks the shape of an id before it is put into a filter. It is not an injection defense, the gateway
// binds all values as parameters.
func IsUUID(s string) bool {
	return uuidPattern.MatchString(s)
}
