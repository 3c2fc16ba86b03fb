package envelope

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tomphttp/bare-server-go/internal/bare"
)

func TestBuildSendHeadersForbidsSendHeader(t *testing.T) {
	bh := bare.BareHeaders{"content-length": bare.NewSingleValue("10")}
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	if _, err := BuildSendHeaders(bh, r, nil, true); err == nil {
		t.Fatal("expected a forbidden-header error for content-length in sendHeaders")
	}
}

func TestBuildSendHeadersForwardsRequestedHeaders(t *testing.T) {
	bh := bare.BareHeaders{}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	r.Header.Set("Cookie", "a=b")

	out, err := BuildSendHeaders(bh, r, []string{"accept-encoding"}, true)
	if err != nil {
		t.Fatal(err)
	}

	// BuildSendHeaders stores headers under whatever case forward/bh named
	// them in, not net/http's canonical form — raw-case preservation is the
	// point, so index the map directly rather than through Header.Get.
	if vs := out["accept-encoding"]; len(vs) != 1 || vs[0] != "gzip" {
		t.Errorf("accept-encoding not forwarded: %v", out)
	}
	if len(out["Cookie"]) != 0 && len(out["cookie"]) != 0 {
		t.Error("Cookie was forwarded without being named in forward")
	}
}

func TestBuildSendHeadersEnforcesForbiddenForward(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example")

	if _, err := BuildSendHeaders(bare.BareHeaders{}, r, []string{"origin"}, true); err == nil {
		t.Fatal("expected a forbidden-header error when forwarding Origin with enforcement on")
	}

	out, err := BuildSendHeaders(bare.BareHeaders{}, r, []string{"origin"}, false)
	if err != nil {
		t.Fatalf("permissive mode should allow forwarding Origin: %v", err)
	}
	if vs := out["origin"]; len(vs) != 1 || vs[0] != "https://evil.example" {
		t.Error("permissive mode should have forwarded Origin")
	}
}

func TestWithDefaultsDeduplicatesCaseInsensitively(t *testing.T) {
	got := WithDefaults([]string{"Accept-Encoding"}, DefaultForward)
	count := 0
	for _, v := range got {
		if strings.EqualFold(v, "accept-encoding") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("accept-encoding appears %d times, want 1", count)
	}
}

func TestCheckPassHeadersRejectsForbidden(t *testing.T) {
	if err := CheckPassHeaders([]string{"vary"}); err == nil {
		t.Fatal("expected an error for a forbidden pass header")
	}
	if err := CheckPassHeaders([]string{"etag"}); err != nil {
		t.Errorf("etag should be a legal pass header: %v", err)
	}
}

func TestParseCommaList(t *testing.T) {
	got := ParseCommaList(" a, b ,,c")
	want := []string{"a", "b", "c"}

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	if ParseCommaList("") != nil {
		t.Error("empty input should produce a nil slice")
	}
}

func TestEncodeResponsePassesOnlyNamedHeaders(t *testing.T) {
	res := &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": {"text/plain"}, "X-Secret": {"nope"}},
		Body:       io.NopCloser(strings.NewReader("hello")),
	}

	rec := httptest.NewRecorder()
	if err := EncodeResponse(rec, res, []string{"content-type"}, nil); err != nil {
		t.Fatal(err)
	}

	if rec.Header().Get("Content-Type") != "text/plain" {
		t.Error("Content-Type should have passed through")
	}
	if rec.Header().Get("X-Secret") != "" {
		t.Error("X-Secret should not have passed through")
	}
	if rec.Header().Get("x-bare-status") != "200" {
		t.Errorf("x-bare-status = %q", rec.Header().Get("x-bare-status"))
	}
	if rec.Code != http.StatusOK {
		t.Errorf("normalized status = %d, want 200 (not in passStatus)", rec.Code)
	}
}

func TestEncodeResponseHonorsPassStatus(t *testing.T) {
	res := &http.Response{
		StatusCode: http.StatusNotModified,
		Status:     "304 Not Modified",
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
	}

	rec := httptest.NewRecorder()
	if err := EncodeResponse(rec, res, nil, map[int]bool{http.StatusNotModified: true}); err != nil {
		t.Fatal(err)
	}

	if rec.Code != http.StatusNotModified {
		t.Errorf("status = %d, want 304", rec.Code)
	}
	if rec.Header().Get("x-bare-status") != "" {
		t.Error("304 should not carry an x-bare-status envelope")
	}
}
