package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/RyanBlaney/sonido-vocal/errs"
)

// Stage names recorded alongside artifacts
const (
	StageSegments     = "segments"
	StageRefine       = "refine"
	StageSpectrograms = "spectrograms"
)

// Fingerprint derives a stable identity from a canonicalized parameter
// map: sorted keys, all numerics rendered as shortest-roundtrip float64.
// Semantically equal maps fingerprint identically regardless of insertion
// order; any value change yields a different fingerprint. Fingerprints are
// compared for equality only, never decoded back into parameters.
func Fingerprint(stage string, params map[string]any) (string, error) {
	if stage == "" {
		return "", errs.New(errs.CodeInvalidParameter, "fingerprint stage cannot be empty")
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(stage)
	sb.WriteByte('\n')
	for _, k := range keys {
		rendered, err := renderValue(params[k])
		if err != nil {
			return "", errs.Wrap(errs.CodeInvalidParameter,
				fmt.Sprintf("cannot fingerprint option %q", k), err)
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(rendered)
		sb.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:16]), nil
}

// FingerprintLayered digests params together with a base fingerprint,
// giving derived stages (refinement) an identity layered on top of the
// artifact they consume.
func FingerprintLayered(stage string, params map[string]any, baseFingerprint string) (string, error) {
	layered := make(map[string]any, len(params)+1)
	for k, v := range params {
		layered[k] = v
	}
	layered["base_fingerprint"] = baseFingerprint
	return Fingerprint(stage, layered)
}

// renderValue canonicalizes a single option value. Numeric types collapse
// to float64 so 512 and 512.0 fingerprint identically.
func renderValue(v any) (string, error) {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(n), 'g', -1, 64), nil
	case int:
		return strconv.FormatFloat(float64(n), 'g', -1, 64), nil
	case int64:
		return strconv.FormatFloat(float64(n), 'g', -1, 64), nil
	case uint64:
		return strconv.FormatFloat(float64(n), 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(n), nil
	case string:
		return strconv.Quote(n), nil
	case []float64:
		parts := make([]string, len(n))
		for i, f := range n {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case []int:
		parts := make([]string, len(n))
		for i, f := range n {
			parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 64)
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case []string:
		parts := make([]string, len(n))
		for i, s := range n {
			parts[i] = strconv.Quote(s)
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	default:
		return "", fmt.Errorf("unsupported option type %T", v)
	}
}
