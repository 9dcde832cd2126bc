package password

// Matcher is satisfied by *Argon2.
type Matcher interface {
	Verify(password string, encodedHash string) (bool, error)
}

// MatchesAny reports whether password verifies against any of hashes.
// Malformed entries are skipped.
func MatchesAny(m Matcher, password string, hashes ...string) bool {
	for _, h := range hashes {
		if h == "" {
			continue
		}
		if ok, err := m.Verify(password, h); err == nil && ok {
			return true
		}
	}
	return false
}

// PushHistory prepends previous to history and trims the result to limit
// entries. A non-positive limit returns nil.
func PushHistory(history []string, previous string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	out := make([]string, 0, limit)
	if previous != "" {
		out = append(out, previous)
	}
	for _, h := range history {
		if len(out) == limit {
			break
		}
		if h == "" || h == previous {
			continue
		}
		out = append(out, h)
	}
	return out
}
