// internal/rules/rules.go
package rules

import (
	"fmt"

	apperrors "github.com/Corphon/GamebookRuntime/internal/errors"
	"github.com/Corphon/GamebookRuntime/internal/models"
)

// FlagReader is the read side of a flag store. Evaluation never mutates flags.
type FlagReader interface {
	IsSet(name string) bool
	IsUnset(name string) bool
}

// FirstMatch returns the index of the first item for which match reports true,
// scanning in order. It returns -1 when nothing matches and stops at the first error.
func FirstMatch[T any](items []T, match func(index int, item T) (bool, error)) (int, error) {
	for i, item := range items {
		ok, err := match(i, item)
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}

// Evaluate decides whether cond currently holds. An empty condition only holds
// for the default behavior of an action.
func Evaluate(cond *models.Condition, isDefault bool, flags FlagReader) (bool, error) {
	if cond.IsEmpty() {
		return isDefault, nil
	}

	switch cond.Connective {
	case models.ConnectiveAnd:
		for _, name := range cond.SetFlags {
			if !flags.IsSet(name) {
				return false, nil
			}
		}
		for _, name := range cond.UnsetFlags {
			if !flags.IsUnset(name) {
				return false, nil
			}
		}
		return true, nil

	case models.ConnectiveOr:
		for _, name := range cond.SetFlags {
			if flags.IsSet(name) {
				return true, nil
			}
		}
		for _, name := range cond.UnsetFlags {
			if flags.IsUnset(name) {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, apperrors.NewConfigurationError(
			fmt.Sprintf("condition connective %q", cond.Connective),
			apperrors.ErrUnknownConnective,
		)
	}
}

// Resolve returns the index of the first currently valid behavior, or -1 when
// none is. The last behavior is the default.
func Resolve(behaviors []models.Behavior, flags FlagReader) (int, error) {
	last := len(behaviors) - 1
	return FirstMatch(behaviors, func(i int, b models.Behavior) (bool, error) {
		ok, err := Evaluate(b.Condition, i == last, flags)
		if err != nil {
			return false, apperrors.WrapError(err, fmt.Sprintf("behavior %q", b.Name), apperrors.ErrorTypeConfiguration)
		}
		return ok, nil
	})
}
