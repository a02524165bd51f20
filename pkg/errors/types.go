package errors

import stderrors "errors"

// As, Is and New forward to the standard library so callers need one import.
func As(err error, target any) bool { return stderrors.As(err, target) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func New(text string) error { return stderrors.New(text) }

// find returns the first *T in err's chain.
func find[T any, P interface {
	*T
	error
}](err error) (P, bool) {
	var target P
	ok := stderrors.As(err, &target)
	return target, ok
}

func IsPermanent(err error) bool {
	_, ok := find[PermanentError](err)
	return ok
}

func IsTemporary(err error) bool {
	_, ok := find[TemporaryError](err)
	return ok
}

func IsNotFound(err error) bool {
	_, ok := find[NotFoundError](err)
	return ok
}

func IsInvalidInput(err error) bool {
	_, ok := find[InvalidInputError](err)
	return ok
}

func IsTierUnavailable(err error) bool {
	_, ok := find[TierUnavailableError](err)
	return ok
}

func IsCorruptEntry(err error) bool {
	_, ok := find[CorruptEntryError](err)
	return ok
}

func IsDependencyUnavailable(err error) bool {
	_, ok := find[DependencyUnavailableError](err)
	return ok
}

// IsRetryable reports whether a later attempt may succeed.
func IsRetryable(err error) bool {
	return IsTemporary(err) || IsTierUnavailable(err)
}
