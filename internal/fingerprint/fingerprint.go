// Package fingerprint derives deterministic cache keys for model requests.
// Two requests with the same script identity, version, normalized parameter
// set and output format always map to the same key, so results are shared
// across unrelated callers.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cadforge/api/internal/model"
)

// Compute returns the hex fingerprint for a validated request. Parameters
// are serialized sorted by name, so insertion order never matters.
func Compute(org, name, version string, params map[string]any, format model.ModelFormat) string {
	var b strings.Builder
	b.WriteString(org)
	b.WriteByte('/')
	b.WriteString(name)
	b.WriteByte('@')
	b.WriteString(version)
	b.WriteByte('|')
	b.WriteString(string(format))

	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		b.WriteByte('|')
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(canonical(params[n]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ForRequest is a convenience over Compute for a script descriptor.
func ForRequest(script *model.ScriptDescriptor, params map[string]any, format model.ModelFormat) string {
	return Compute(script.Org, script.Name, script.Version, params, format)
}

// canonical renders a normalized parameter value. Validated values are
// float64, bool or string; anything else falls back to JSON encoding.
func canonical(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case string:
		return strconv.Quote(t)
	default:
		enc, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(enc)
	}
}
