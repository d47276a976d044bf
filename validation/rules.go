/*
Package validation gates submissions on local field rules and remote checks.

PURPOSE:
  Every input field has a synchronous rule set, evaluated on each change,
  and optionally one asynchronous check (ID availability, user existence)
  whose latest result is cached per input value. A Form combines them into a
  single CanSubmit predicate. Suggester runs autocomplete lookups where a
  newer query for the same field cancels the older one.

PROPAGATION:
  Synchronous failures never leave this package as remote calls: a failing
  field simply disables submission. Remote failures are kept per field and
  reported verbatim.

SEE ALSO:
  - form.go: Form and CanSubmit
  - suggest.go: Cancellable per-field suggestions
  - skills/recorder.go: Uses UserIDRules before any directory call
*/
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/warp/skill-engine/core"
)

var validate = validator.New()

// Rule checks one value and returns a user-facing error, or nil.
type Rule func(value string) error

// =============================================================================
// BUILT-IN RULES
// =============================================================================

func Required(label string) Rule {
	return func(value string) error {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("The %s field is required", label)
		}
		return nil
	}
}

func NoWhitespace(label string) Rule {
	return func(value string) error {
		if strings.IndexFunc(value, unicode.IsSpace) >= 0 {
			return fmt.Errorf("The %s field may not contain spaces", label)
		}
		return nil
	}
}

func MaxLength(label string, n int) Rule {
	return func(value string) error {
		if err := validate.Var(value, fmt.Sprintf("max=%d", n)); err != nil {
			return fmt.Errorf("The %s field may not be greater than %d characters", label, n)
		}
		return nil
	}
}

// AlphaNumeric accepts ASCII letters and digits only. Empty values pass;
// combine with Required when the field is mandatory.
func AlphaNumeric(label string) Rule {
	return func(value string) error {
		if value == "" {
			return nil
		}
		if err := validate.Var(value, "alphanum"); err != nil {
			return fmt.Errorf("The %s field may only contain alpha-numeric characters", label)
		}
		return nil
	}
}

// =============================================================================
// RULE SETS
// =============================================================================

const (
	FieldUserID    = "userId"
	FieldSkillName = "skillName"
	FieldSkillID   = "skillId"

	MaxUserIDLength = 256
	MaxNameLength   = 100
)

// UserIDRules: required, no whitespace, bounded length. Any other
// character ("/", "@", "#", "$", "&", "*") is accepted.
func UserIDRules() []Rule {
	return []Rule{
		Required("User Id"),
		NoWhitespace("User Id"),
		MaxLength("User Id", MaxUserIDLength),
	}
}

func SkillNameRules() []Rule {
	return []Rule{Required("Skill Name"), MaxLength("Skill Name", MaxNameLength)}
}

func SkillIDRules() []Rule {
	return []Rule{Required("Skill ID"), AlphaNumeric("Skill ID"), MaxLength("Skill ID", MaxNameLength)}
}

// First returns the first failing rule's error, or nil.
func First(value string, rules []Rule) error {
	for _, rule := range rules {
		if err := rule(value); err != nil {
			return err
		}
	}
	return nil
}

// Check runs rules against value and converts the first failure into a
// validation error for field.
func Check(field, value string, rules []Rule) error {
	if err := First(value, rules); err != nil {
		return core.Validation(field, core.CodeInvalidInput, err.Error())
	}
	return nil
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, core.ErrValidation)
}
