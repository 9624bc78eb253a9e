package security

// redactPrefixLength is how much of a secret may appear in logs
const redactPrefixLength = 8

// Redact returns a log-safe form of a frob, code or token: at most the
// first eight characters followed by "...".
func Redact(s string) string {
	if s == "" {
		return "<empty>"
	}
	if len(s) <= redactPrefixLength {
		return s[:len(s)/2] + "..."
	}
	return s[:redactPrefixLength] + "..."
}
