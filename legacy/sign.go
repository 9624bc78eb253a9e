package legacy

import (
	"crypto/md5" //nolint:gosec // MD5 is mandated by the legacy wire protocol
	"encoding/hex"
	"sort"
	"strings"
)

// SignatureParam is the request parameter carrying the signature. It is never
// part of the signed payload.
const SignatureParam = "api_sig"

// Sign computes the legacy API signature for the given parameters.
//
// Keys are sorted by raw byte order, each key is concatenated with its value
// without separators, the shared secret is prepended and the result is hashed
// with MD5. The output is lowercase hex. Sign must be called with every
// outbound parameter except api_sig itself.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == SignatureParam {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(secret)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}

	sum := md5.Sum([]byte(b.String())) //nolint:gosec // wire compatibility
	return hex.EncodeToString(sum[:])
}

// Verify reports whether sig is the signature of params under secret.
func Verify(params map[string]string, secret, sig string) bool {
	return strings.EqualFold(Sign(params, secret), sig)
}
