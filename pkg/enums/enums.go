// Package enums holds the string-backed values persisted in the database and
// carried in tokens and event payloads.
package enums

import "fmt"

type enum interface {
	~string
	IsValid() bool
}

func parse[E enum](value, kind string) (E, error) {
	e := E(value)
	if !e.IsValid() {
		var zero E
		return zero, fmt.Errorf("invalid %s %q", kind, value)
	}
	return e, nil
}
