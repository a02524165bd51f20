package errors

// TierUnavailableError means a cache tier could not be reached. The orchestrator
// logs it and reads the tier as a miss; callers never see it.
type TierUnavailableError struct {
	cause
	tier string
}

// NewTierUnavailable reports tier ("l1" or "l2") as unreachable.
func NewTierUnavailable(tier string, err error) error {
	return &TierUnavailableError{cause: cause{err}, tier: tier}
}

func (e *TierUnavailableError) Error() string {
	return "cache tier " + e.tier + " unavailable" + e.suffix()
}

func (e *TierUnavailableError) Tier() string { return e.tier }

// CorruptEntryError is a stored value that failed to decompress or decode. The
// entry is evicted and the read becomes a miss.
type CorruptEntryError struct {
	cause
	key string
}

func NewCorruptEntry(key string, err error) error {
	return &CorruptEntryError{cause: cause{err}, key: key}
}

func (e *CorruptEntryError) Error() string {
	head := "corrupt cache entry"
	if e.key != "" {
		head += " " + e.key
	}
	return head + e.suffix()
}

func (e *CorruptEntryError) Key() string { return e.key }

// DependencyUnavailableError is returned without calling the dependency when its
// breaker is open.
type DependencyUnavailableError struct {
	cause
	dependency string
}

func NewDependencyUnavailable(dependency string, err error) error {
	return &DependencyUnavailableError{cause: cause{err}, dependency: dependency}
}

func (e *DependencyUnavailableError) Error() string {
	return "dependency " + e.dependency + " unavailable" + e.suffix()
}

// Dependency is the breaker key.
func (e *DependencyUnavailableError) Dependency() string { return e.dependency }
