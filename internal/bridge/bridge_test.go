package bridge

import "testing"

func TestAuthHeaderBearerWinsOverBasic(t *testing.T) {
	if got := AuthHeader("user:pass", "tok"); got != "Bearer tok" {
		t.Fatalf("AuthHeader = %q, want %q", got, "Bearer tok")
	}
}

func TestAuthHeaderBasicEncoding(t *testing.T) {
	got := AuthHeader("admin:public", "")
	want := "Basic YWRtaW46cHVibGlj"
	if got != want {
		t.Fatalf("AuthHeader = %q, want %q", got, want)
	}
}

func TestAuthHeaderEmpty(t *testing.T) {
	if got := AuthHeader("", ""); got != "" {
		t.Fatalf("AuthHeader = %q, want empty", got)
	}
}

func TestResolveLocationAbsolute(t *testing.T) {
	got := resolveLocation("https://example.com/whip/777", "https://example.com/resource/abc")
	if got != "https://example.com/resource/abc" {
		t.Fatalf("resolveLocation = %q", got)
	}
}

func TestResolveLocationRelative(t *testing.T) {
	got := resolveLocation("https://example.com/whip/777", "/resource/abc")
	if got != "https://example.com/resource/abc" {
		t.Fatalf("resolveLocation = %q", got)
	}
}

func TestResolveLocationRelativeNoLeadingSlash(t *testing.T) {
	got := resolveLocation("https://example.com/whip/777", "resource/abc")
	if got != "https://example.com/whip/resource/abc" {
		t.Fatalf("resolveLocation = %q", got)
	}
}

func TestResolveLocationEmpty(t *testing.T) {
	if got := resolveLocation("https://example.com/whip/777", ""); got != "" {
		t.Fatalf("resolveLocation = %q, want empty", got)
	}
}
