package bare

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// HeaderValue represents a BareHeaders value, which on the wire is either a
// bare string or an ordered array of strings. Insertion order of Multi is
// preserved end to end.
type HeaderValue struct {
	Single string
	Multi  []string
	isMany bool
}

// NewSingleValue builds a single-string HeaderValue.
func NewSingleValue(v string) HeaderValue { return HeaderValue{Single: v} }

// NewMultiValue builds an array-valued HeaderValue.
func NewMultiValue(v []string) HeaderValue { return HeaderValue{Multi: v, isMany: true} }

// IsMulti reports whether the value was encoded as an array.
func (h HeaderValue) IsMulti() bool { return h.isMany }

// Flatten joins an array value with ", " (RFC 7230 combining); a single
// value is returned unchanged.
func (h HeaderValue) Flatten() string {
	if !h.isMany {
		return h.Single
	}

	return strings.Join(h.Multi, ", ")
}

// errNotStringOrArray is returned by UnmarshalJSON for any JSON value that
// isn't a string or an array of strings — the wire shape §4.A requires.
var errNotStringOrArray = errors.New("header value must be a string or an array of strings")

// MarshalJSON encodes h as a bare string or a JSON array, per §3's
// BareHeaders wire shape.
func (h HeaderValue) MarshalJSON() ([]byte, error) {
	if h.isMany {
		return json.Marshal(h.Multi)
	}

	return json.Marshal(h.Single)
}

// UnmarshalJSON strictly enforces the string | array-of-string shape of
// §4.A/§9, rejecting any other JSON value.
func (h *HeaderValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return errNotStringOrArray
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*h = NewSingleValue(s)
		return nil
	}

	var elems []*string
	if err := json.Unmarshal(data, &elems); err != nil {
		return errNotStringOrArray
	}

	arr := make([]string, len(elems))
	for i, e := range elems {
		if e == nil {
			return errNotStringOrArray
		}
		arr[i] = *e
	}

	*h = NewMultiValue(arr)

	return nil
}

// BareHeaders is the parsed, case-agnostic representation of the
// x-bare-headers JSON payload.
type BareHeaders map[string]HeaderValue

// ParseBareHeaders decodes the x-bare-headers JSON payload, reporting
// INVALID_BARE_HEADER on malformed JSON or a value that isn't a string or
// array of strings (§4.F).
func ParseBareHeaders(data []byte) (BareHeaders, error) {
	var h BareHeaders

	if err := json.Unmarshal(data, &h); err != nil {
		return nil, InvalidHeader("x-bare-headers", err.Error())
	}

	return h, nil
}

// RawHeaderNames returns the ordered set of distinct header names found in
// seq, a flattened [name0, value0, name1, value1, ...] sequence, preserving
// the original capitalization of the first occurrence of each name.
func RawHeaderNames(seq []string) []string {
	seen := make(map[string]struct{}, len(seq)/2)
	names := make([]string, 0, len(seq)/2)

	for i := 0; i+1 < len(seq); i += 2 {
		name := seq[i]
		key := strings.ToLower(name)

		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		names = append(names, name)
	}

	return names
}

// MapHeadersFromArray rebuilds a map keyed by the original-case names in
// rawNames, with values sourced from lowercaseMap keyed by name.ToLower().
// This is how a remote response's header capitalization survives a
// round-trip through the lowercased internal representation.
func MapHeadersFromArray(rawNames []string, lowercaseMap map[string][]string) map[string][]string {
	out := make(map[string][]string, len(rawNames))

	for _, name := range rawNames {
		if v, ok := lowercaseMap[strings.ToLower(name)]; ok {
			out[name] = v
		}
	}

	return out
}
