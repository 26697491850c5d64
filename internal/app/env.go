package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// All chatd configuration comes from CHATD_-prefixed environment variables.
// The helpers take the name without the prefix and fall back to the default
// on missing or unparsable values instead of failing startup.
const envPrefix = "CHATD_"

func envValue(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

// EnvString reads CHATD_<name> with a default.
func EnvString(name, def string) string {
	if v := envValue(name); v != "" {
		return v
	}
	return def
}

// EnvBool reads CHATD_<name> as a bool with a default.
func EnvBool(name string, def bool) bool {
	v := envValue(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// EnvInt reads CHATD_<name> as a positive int with a default.
func EnvInt(name string, def int) int {
	v := envValue(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// EnvInt32 reads CHATD_<name> as a non-negative int32 with a default.
// Zero is valid; pool sizing and Redis DB selection both allow it.
func EnvInt32(name string, def int32) int32 {
	v := envValue(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		return def
	}
	return int32(n)
}

// EnvDuration reads CHATD_<name> as a positive duration with a default.
func EnvDuration(name string, def time.Duration) time.Duration {
	v := envValue(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
