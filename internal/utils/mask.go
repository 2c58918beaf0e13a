package utils

import "strings"

// MaskSecret keeps the first and last few characters of a credential so it
// can be logged or shown without revealing it.
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return strings.Repeat("*", len(s))
	default:
		return s[:6] + "..." + s[len(s)-2:]
	}
}

// plainCredentialKeys select an endpoint rather than grant access.
var plainCredentialKeys = map[string]bool{
	"environment": true,
	"mode":        true,
	"region":      true,
}

// MaskCredentials masks every string of a credential map in place,
// including those in nested maps and lists.
func MaskCredentials(creds map[string]any) {
	for k, v := range creds {
		if plainCredentialKeys[strings.ToLower(k)] {
			continue
		}
		creds[k] = maskValue(v)
	}
}

func maskValue(v any) any {
	switch val := v.(type) {
	case string:
		return MaskSecret(val)
	case map[string]any:
		MaskCredentials(val)
		return val
	case []any:
		for i := range val {
			val[i] = maskValue(val[i])
		}
		return val
	default:
		return v
	}
}
