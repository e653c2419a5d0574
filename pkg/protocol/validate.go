package protocol

import "github.com/go-playground/validator/v10"

// MaxNameLength bounds user and room names, in characters.
const MaxNameLength = 32

var validate = validator.New()

// ValidName reports whether name is acceptable as a user or room name.
// Names are single tokens, so whitespace is already excluded by Parse.
func ValidName(name string) bool {
	return validate.Var(name, "required,max=32") == nil
}
