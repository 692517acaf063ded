package providers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/csvusage"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/shopspring/decimal"
)

// Vendor payloads drift between API versions, so fields are read through
// prioritized candidate paths. A path is dot separated; numeric segments
// index into arrays.

// lookup returns the value at the first candidate path that resolves to a non-nil value.
func lookup(doc any, paths ...string) (any, bool) {
	for _, p := range paths {
		if v, ok := walk(doc, p); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func walk(doc any, path string) (any, bool) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				v, ok = foldKey(node, seg)
			}
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func foldKey(m map[string]any, key string) (any, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// lookupString returns the first candidate that renders as a non-empty string.
func lookupString(doc any, paths ...string) string {
	for _, p := range paths {
		v, ok := walk(doc, p)
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(asString(v)); s != "" {
			return s
		}
	}
	return ""
}

// lookupDecimal returns the first candidate that parses as a number.
func lookupDecimal(doc any, paths ...string) (decimal.Decimal, bool) {
	for _, p := range paths {
		v, ok := walk(doc, p)
		if !ok || v == nil {
			continue
		}
		if d, ok := asDecimal(v); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// lookupSlice returns the first candidate that is an array.
func lookupSlice(doc any, paths ...string) []any {
	for _, p := range paths {
		if v, ok := walk(doc, p); ok {
			if s, ok := v.([]any); ok {
				return s
			}
		}
	}
	return nil
}

// lookupInt returns the first candidate that is an integer, or -1.
func lookupInt(doc any, paths ...string) int {
	if d, ok := lookupDecimal(doc, paths...); ok {
		return int(d.IntPart())
	}
	return -1
}

// lookupDate returns the first candidate that parses as a calendar date.
func lookupDate(doc any, paths ...string) (time.Time, bool) {
	for _, p := range paths {
		if s := lookupString(doc, p); s != "" {
			if t, ok := csvusage.ParseDate(s); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(x), true
	case string:
		return csvusage.ParseAmount(x)
	default:
		return decimal.Zero, false
	}
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeLookupKey folds case and strips punctuation so account identifiers
// match regardless of how a vendor formats them.
func normalizeLookupKey(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(s), "")
}

func missing(provider model.Provider, what string) error {
	return fmt.Errorf("%s: %w: %s", provider, model.ErrMissingCredentials, what)
}
