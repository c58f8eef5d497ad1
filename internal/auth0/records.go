package auth0

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Record is the validated projection of a remote item: a non-empty
// identifier plus a non-empty display name.
type Record struct {
	ID   string
	Name string
}

// Valid pairs a remote item with its validated Record.
type Valid[T any] struct {
	Record
	Item T
}

// InvalidRecordError describes why a remote item was rejected.
type InvalidRecordError struct {
	Kind   string
	ID     string
	Name   string
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid %s (id=%q, name=%q): %s", e.Kind, e.ID, e.Name, e.Reason)
}

func (e *InvalidRecordError) Is(target error) bool {
	return target == ErrInvalidRecord
}

func validate(kind, id, name string) (Record, error) {
	switch {
	case id == "":
		return Record{}, &InvalidRecordError{Kind: kind, ID: id, Name: name, Reason: "missing id"}
	case name == "":
		return Record{}, &InvalidRecordError{Kind: kind, ID: id, Name: name, Reason: "missing name"}
	}
	return Record{ID: id, Name: name}, nil
}

func ValidateRole(r Role) (Record, error) {
	return validate("role", r.ID, r.Name)
}

func ValidateClient(c Application) (Record, error) {
	return validate("client", c.ClientID, c.Name)
}

func ValidateConnection(c Connection) (Record, error) {
	return validate("connection", c.ID, c.Name)
}

func ValidateRule(r Rule) (Record, error) {
	return validate("rule", r.ID, r.Name)
}

// FilterValid runs validate on every item and keeps the valid ones in their
// original order. Invalid items are dropped and logged; they never abort
// the caller.
func FilterValid[T any](items []T, validate func(T) (Record, error)) []Valid[T] {
	result := make([]Valid[T], 0, len(items))
	for _, item := range items {
		rec, err := validate(item)
		if err != nil {
			log.Debug().Err(err).Msg("Skipping remote record")
			continue
		}
		result = append(result, Valid[T]{Record: rec, Item: item})
	}
	return result
}
