package gflags

import (
	"encoding/csv"
	"sort"
	"strings"

	"github.com/cuemby/fleet/pkg/log"
)

// MergeUserFlags overlays user flags on platform flags.
// CSV-valued flags are unioned. A forbidden flag whose user value differs
// from the platform value is dropped with a warning unless allowOverrideAll.
func MergeUserFlags(user, platform map[string]string, allowOverrideAll bool) map[string]string {
	merged := copyFlags(platform)

	keys := make([]string, 0, len(user))
	for k := range user {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := user[key]
		platformValue, platformHas := platform[key]

		switch {
		case IsCSV(key) && platformHas:
			merged[key] = MergeCSV(user, platform, key)
		case IsForbidden(key) && platformHas && platformValue != value && !allowOverrideAll:
			logger := log.WithComponent("gflags")
			logger.Warn().
				Str("flag", key).
				Str("user_value", value).
				Str("platform_value", platformValue).
				Msg("Dropping user value of platform-owned flag")
		default:
			merged[key] = value
		}
	}

	return merged
}

// MergeCSV returns the de-duplicated union of the comma-separated tokens of
// key in both maps. Platform tokens come first, then new user tokens.
// Quoted tokens may contain commas.
func MergeCSV(user, platform map[string]string, key string) string {
	seen := make(map[string]bool)
	var out []string
	for _, value := range []string{platform[key], user[key]} {
		for _, token := range splitCSV(value) {
			if !seen[token] {
				seen[token] = true
				out = append(out, token)
			}
		}
	}
	return joinCSV(out)
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	r := csv.NewReader(strings.NewReader(value))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		// unbalanced quoting: fall back to a plain split
		record = strings.Split(value, ",")
	}

	var out []string
	for _, token := range record {
		token = strings.TrimSpace(token)
		if token != "" {
			out = append(out, token)
		}
	}
	return out
}

func joinCSV(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, token := range tokens {
		if strings.ContainsAny(token, ",\"") {
			token = `"` + strings.ReplaceAll(token, `"`, `""`) + `"`
		}
		quoted[i] = token
	}
	return strings.Join(quoted, ",")
}
