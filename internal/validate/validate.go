// Package validate checks that the required contact form fields are present.
// It checks presence only; format checks belong to the client.
package validate

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shineum/inquiry-relay/internal/intake"
)

// DefaultRequired is the minimal required set.
var DefaultRequired = []string{intake.KeyName, intake.KeyEmail, intake.KeyMessage}

// Validator reports missing required fields.
type Validator struct {
	required []string
	v        *validator.Validate
}

// New creates a Validator for the declared required keys. An empty list
// falls back to DefaultRequired.
func New(required []string) *Validator {
	if len(required) == 0 {
		required = DefaultRequired
	}
	keys := make([]string, 0, len(required))
	seen := make(map[string]bool, len(required))
	for _, k := range required {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}

	return &Validator{
		required: keys,
		v:        validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Required returns the declared required keys in order.
func (val *Validator) Required() []string {
	out := make([]string, len(val.required))
	copy(out, val.required)
	return out
}

// Missing returns the required keys whose value is absent or blank after
// trimming whitespace, in declared order. A nil result means all present.
func (val *Validator) Missing(fields *intake.Fields) []string {
	var missing []string
	for _, key := range val.required {
		value := strings.TrimSpace(fields.Get(key))
		if err := val.v.Var(value, "required"); err != nil {
			missing = append(missing, key)
		}
	}
	return missing
}
