package errors

import "fmt"

// Wrap prefixes err with msg and keeps its category, so IsTemporary and friends
// still answer the same after wrapping. Uncategorized errors become permanent.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	annotated := fmt.Errorf("%s: %w", msg, err)

	if e, ok := find[DependencyUnavailableError](err); ok {
		return NewDependencyUnavailable(e.dependency, annotated)
	}
	if e, ok := find[TierUnavailableError](err); ok {
		return NewTierUnavailable(e.tier, annotated)
	}
	if e, ok := find[CorruptEntryError](err); ok {
		return NewCorruptEntry(e.key, annotated)
	}
	if IsPermanent(err) {
		return NewPermanent(msg, err)
	}
	if IsTemporary(err) {
		return NewTemporary(msg, err)
	}
	if e, ok := find[NotFoundError](err); ok {
		return NewNotFoundWithCause(e.resource, e.id, err)
	}
	if e, ok := find[InvalidInputError](err); ok {
		return NewInvalidInputWithCause(e.field, msg, err)
	}
	return NewPermanent(msg, err)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}
