package bare

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxHeaderFragment is the maximum length of one x-bare-headers-N fragment.
// HTTP servers commonly reject a single header value beyond roughly 8KiB;
// staying well under that with headroom for surrounding headers avoids 431s.
const MaxHeaderFragment = 3072

const bareHeadersKey = "x-bare-headers"

// SplitHeaders chunks an oversized x-bare-headers value into
// x-bare-headers-0, x-bare-headers-1, ... fragments, each prefixed with a
// literal ';' (which defeats middleboxes that trim "empty" header values).
// Headers whose x-bare-headers value is within MaxHeaderFragment are
// returned unchanged.
func SplitHeaders(h map[string]string) map[string]string {
	full, ok := h[bareHeadersKey]
	if !ok || len(full) <= MaxHeaderFragment {
		return h
	}

	out := make(map[string]string, len(h))
	for k, v := range h {
		if k == bareHeadersKey {
			continue
		}
		out[k] = v
	}

	for i, n := 0, 0; i < len(full); i += MaxHeaderFragment {
		end := i + MaxHeaderFragment
		if end > len(full) {
			end = len(full)
		}

		out[fmt.Sprintf("%s-%d", bareHeadersKey, n)] = ";" + full[i:end]
		n++
	}

	return out
}

// JoinHeaders reassembles x-bare-headers-N fragments back into a single
// x-bare-headers value, in ascending N order. It returns an error if any
// fragment does not begin with the literal ';' that SplitHeaders produces.
func JoinHeaders(h map[string]string) (map[string]string, error) {
	if _, ok := h[bareHeadersKey+"-0"]; !ok {
		return h, nil
	}

	type fragment struct {
		n     int
		value string
	}

	var fragments []fragment

	for k, v := range h {
		suffix, ok := strings.CutPrefix(k, bareHeadersKey+"-")
		if !ok {
			continue
		}

		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}

		if !strings.HasPrefix(v, ";") {
			return nil, InvalidHeader("x-bare-headers", "fragment "+k+" missing leading semicolon")
		}

		fragments = append(fragments, fragment{n: n, value: v[1:]})
	}

	sort.Slice(fragments, func(i, j int) bool { return fragments[i].n < fragments[j].n })

	out := make(map[string]string, len(h))
	for k, v := range h {
		if strings.HasPrefix(k, bareHeadersKey+"-") {
			continue
		}
		out[k] = v
	}

	var joined strings.Builder
	for _, f := range fragments {
		joined.WriteString(f.value)
	}

	out[bareHeadersKey] = joined.String()

	return out, nil
}
