package services

import (
	"fmt"
	"strings"
)

// Credentials is the opaque key-value credential map of a gateway, as sent
// in payment_config or stored on the gateway configuration.
type Credentials map[string]any

// Str returns the first non-empty value among keys, rendered as a string.
func (c Credentials) Str(keys ...string) string {
	for _, key := range keys {
		v, ok := c[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case fmt.Stringer:
			s = val.String()
		default:
			s = fmt.Sprint(val)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Nested returns the map stored under key merged over the top-level values,
// so {"square": {...}} and a flat map read the same way.
func (c Credentials) Nested(key string) Credentials {
	out := make(Credentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	if sub, ok := c[key].(map[string]any); ok {
		for k, v := range sub {
			out[k] = v
		}
	}
	return out
}

// Empty reports whether no credential carries a value.
func (c Credentials) Empty() bool {
	for k, v := range c {
		if sub, ok := v.(map[string]any); ok {
			if !Credentials(sub).Empty() {
				return false
			}
			continue
		}
		if c.Str(k) != "" {
			return false
		}
	}
	return true
}

// missing returns the names among required that have no value.
func (c Credentials) missing(required ...string) []string {
	var out []string
	for _, key := range required {
		if c.Str(key) == "" {
			out = append(out, key)
		}
	}
	return out
}

// environmentOf normalises an environment/mode value to sandbox or live.
func environmentOf(values ...string) string {
	for _, v := range values {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "live", "production", "prod":
			return "live"
		case "sandbox", "test", "playground", "development":
			return "sandbox"
		}
	}
	return "sandbox"
}
