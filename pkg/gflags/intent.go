package gflags

import (
	"strconv"
	"strings"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/types"
)

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// CheckConsistency rejects master and tserver flags that disagree on a
// flag mirroring a UserIntent field. Values are compared case-insensitively
// after trimming.
func CheckConsistency(master, tserver map[string]string) error {
	for _, m := range mirrored {
		mv, mok := master[m.flag]
		tv, tok := tserver[m.flag]
		if mok && tok && normalize(mv) != normalize(tv) {
			return apierr.BadRequestf("flag %s is %q for masters but %q for tservers", m.flag, mv, tv)
		}
	}
	return nil
}

// SyncFlagsToIntent overwrites intent fields whose mirrored flag is set
// explicitly to a different value. Flags win over the intent. It reports
// whether the intent changed.
func SyncFlagsToIntent(flags map[string]string, intent *types.UserIntent) (bool, error) {
	changed := false
	for _, m := range mirrored {
		raw, ok := flags[m.flag]
		if !ok {
			continue
		}
		value, err := strconv.ParseBool(normalize(raw))
		if err != nil {
			return false, apierr.BadRequestf("flag %s has non-boolean value %q", m.flag, raw)
		}
		if m.get(intent) != value {
			m.set(intent, value)
			changed = true
		}
	}
	return changed, nil
}

// SyncProcessFlagsToIntent syncs both process maps after checking they agree
func SyncProcessFlagsToIntent(master, tserver map[string]string, intent *types.UserIntent) (bool, error) {
	if err := CheckConsistency(master, tserver); err != nil {
		return false, err
	}
	combined := copyFlags(master)
	for k, v := range tserver {
		combined[k] = v
	}
	return SyncFlagsToIntent(combined, intent)
}
