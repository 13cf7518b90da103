package telemetry

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"unicode/utf16"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
)

// Attribute is a stringified, limited key/value pair as stored on LogEntry, Span,
// SpanEvent, SpanLink and metric dimensions.
type Attribute struct {
	Key   string
	Value string
}

// Stringify renders an OTLP AnyValue the way the repository stores it: strings pass
// through, numbers/bools render culture-invariant decimal, bytes render lowercase hex,
// arrays/kvlists render as JSON (recursively), and a nil value renders empty (JSON null
// only when nested inside an array or kvlist).
func Stringify(v *commonpb.AnyValue) string {
	return stringify(v, false)
}

func stringify(v *commonpb.AnyValue, nested bool) string {
	if v == nil {
		if nested {
			return "null"
		}
		return ""
	}
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'g', -1, 64)
	case *commonpb.AnyValue_BytesValue:
		return hex.EncodeToString(val.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		return stringifyArray(val.ArrayValue)
	case *commonpb.AnyValue_KvlistValue:
		return stringifyKvlist(val.KvlistValue)
	default:
		if nested {
			return "null"
		}
		return ""
	}
}

func stringifyArray(arr *commonpb.ArrayValue) string {
	if arr == nil {
		b, _ := json.Marshal([]any{})
		return string(b)
	}
	out := make([]json.RawMessage, 0, len(arr.GetValues()))
	for _, elem := range arr.GetValues() {
		out = append(out, rawJSONLeaf(elem))
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func stringifyKvlist(kv *commonpb.KeyValueList) string {
	if kv == nil {
		b, _ := json.Marshal(map[string]any{})
		return string(b)
	}
	out := make(map[string]json.RawMessage, len(kv.GetValues()))
	for _, e := range kv.GetValues() {
		out[e.GetKey()] = rawJSONLeaf(e.GetValue())
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// rawJSONLeaf renders a nested AnyValue as a json.RawMessage, recursing for
// arrays/kvlists and quoting scalar forms so the surrounding container stays valid JSON.
func rawJSONLeaf(v *commonpb.AnyValue) json.RawMessage {
	if v == nil || v.GetValue() == nil {
		return json.RawMessage("null")
	}
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_ArrayValue:
		return json.RawMessage(stringifyArray(val.ArrayValue))
	case *commonpb.AnyValue_KvlistValue:
		return json.RawMessage(stringifyKvlist(val.KvlistValue))
	case *commonpb.AnyValue_BoolValue:
		b, _ := json.Marshal(val.BoolValue)
		return b
	case *commonpb.AnyValue_IntValue:
		b, _ := json.Marshal(val.IntValue)
		return b
	case *commonpb.AnyValue_DoubleValue:
		b, _ := json.Marshal(val.DoubleValue)
		return b
	default:
		b, _ := json.Marshal(stringify(v, true))
		return b
	}
}

// truncateUTF16 truncates s to at most maxUnits UTF-16 code units, never splitting a
// surrogate pair. maxUnits <= 0 means unlimited.
func truncateUTF16(s string, maxUnits int) string {
	if maxUnits <= 0 {
		return s
	}
	units := utf16.Encode([]rune(s))
	if len(units) <= maxUnits {
		return s
	}
	cut := maxUnits
	// Never split a surrogate pair: if the unit at cut-1 is a high surrogate, back off by one.
	if cut > 0 && units[cut-1] >= 0xD800 && units[cut-1] <= 0xDBFF {
		cut--
	}
	return string(utf16.Decode(units[:cut]))
}

// LimitAttributes dedupes and truncates an attribute list under the given limits.
// parents are copied first (trimmed to MaxAttributeCount on their own), then children are
// appended; last-value-wins on duplicate keys, and each value is truncated to
// MaxAttributeLength UTF-16 code units. Returns the limited list and a count of values that
// were discarded outright (new keys arriving after the cap was reached).
func LimitAttributes(logger *slog.Logger, parents, children []*commonpb.KeyValue, limits Limits) ([]Attribute, int) {
	order := make([]string, 0, len(parents)+len(children))
	values := make(map[string]string, len(parents)+len(children))
	discarded := 0

	appendCapped := func(kvs []*commonpb.KeyValue, cap int) {
		for _, kv := range kvs {
			key := kv.GetKey()
			val := truncateUTF16(Stringify(kv.GetValue()), limits.MaxAttributeLength)
			if existing, ok := values[key]; ok {
				if existing != val && logger != nil {
					logger.Debug("duplicate attribute key with differing value", "key", key)
				}
				values[key] = val
				continue
			}
			if cap > 0 && len(order) >= cap {
				discarded++
				continue
			}
			order = append(order, key)
			values[key] = val
		}
	}

	parentCap := limits.MaxAttributeCount
	appendCapped(parents, parentCap)
	appendCapped(children, limits.MaxAttributeCount)

	out := make([]Attribute, 0, len(order))
	for _, k := range order {
		out = append(out, Attribute{Key: k, Value: values[k]})
	}
	return out, discarded
}

// sortedAttributeKeys returns the sorted, deduplicated key set of a normalized view.
func sortedAttributeKeys(attrs []Attribute) []string {
	seen := make(map[string]struct{}, len(attrs))
	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		if _, ok := seen[a.Key]; ok {
			continue
		}
		seen[a.Key] = struct{}{}
		keys = append(keys, a.Key)
	}
	sort.Strings(keys)
	return keys
}

// normalizedAttributeSignature renders a key-sorted "key=value" join used to compare
// ResourceViews for equality.
func normalizedAttributeSignature(attrs []Attribute) string {
	cp := make([]Attribute, len(attrs))
	copy(cp, attrs)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Key < cp[j].Key })
	var out []byte
	for _, a := range cp {
		out = append(out, a.Key...)
		out = append(out, '=')
		out = append(out, a.Value...)
		out = append(out, ';')
	}
	return string(out)
}

// AttributeValue looks up an attribute by key; ok is false when absent.
func AttributeValue(attrs []Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
