package bare

import "testing"

func TestEncodeDecodeProtocolRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"bare",
		`{"remote":"https://example.com/"}`,
		"has spaces and %percent",
		"unicode-éè",
	}

	for _, c := range cases {
		enc := EncodeProtocol(c)
		if got := DecodeProtocol(enc); got != c {
			t.Errorf("round trip mismatch: encoded %q, decoded %q, want %q", enc, got, c)
		}
	}
}

func TestEncodeProtocolLeavesTokenCharsAlone(t *testing.T) {
	const s = "abcXYZ019-._~"
	if got := EncodeProtocol(s); got != s {
		t.Errorf("EncodeProtocol(%q) = %q, want unchanged", s, got)
	}
}

func TestDecodeProtocolTruncatedEscape(t *testing.T) {
	cases := map[string]string{
		"abc%":   "abc",
		"abc%2":  "abc",
		"abc%2g": "abc",
		"abc%20": "abc ",
	}

	for in, want := range cases {
		if got := DecodeProtocol(in); got != want {
			t.Errorf("DecodeProtocol(%q) = %q, want %q", in, got, want)
		}
	}
}
