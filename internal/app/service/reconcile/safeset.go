package reconcile

// SafeSet is the set of member IDs classified entitled at the start of a scan
// pass. It is computed once per pass and consulted before any demote or kick,
// so a classification derived moments earlier can never strip a member who
// was promoted in the same pass.
type SafeSet map[string]struct{}

func NewSafeSet(ids []string) SafeSet {
	s := make(SafeSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s SafeSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}
