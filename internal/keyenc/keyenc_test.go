package keyenc

import "testing"

var dashDot = Encoding{
	Escape: '_',
	Valid: func(c byte) bool {
		return Alnum(c) || c == '-' || c == '.'
	},
}

func TestEncoding_RoundTrip(t *testing.T) {
	cases := map[string]string{
		"theme":         "theme",
		"app:theme":     "app_3Atheme",
		"snake_case":    "snake_5Fcase",
		"a/b c":         "a_2Fb_20c",
		"config.v1-new": "config.v1-new",
		"":              "",
	}
	for key, want := range cases {
		if got := dashDot.Encode(key); got != want {
			t.Errorf("Encode(%q) = %q, want %q", key, got, want)
		}
		if got := dashDot.Decode(want); got != key {
			t.Errorf("Decode(%q) = %q, want %q", want, got, key)
		}
	}
}

func TestEncoding_MalformedEscape(t *testing.T) {
	if got := dashDot.Decode("a_zz_"); got != "a_zz_" {
		t.Errorf("expected malformed escapes kept, got %q", got)
	}
	if got := dashDot.Decode("a_4"); got != "a_4" {
		t.Errorf("expected truncated escape kept, got %q", got)
	}
}

func TestEncoding_EscapeByteAlwaysEscaped(t *testing.T) {
	enc := Encoding{Escape: '=', Valid: func(byte) bool { return true }}
	if got := enc.Encode("a=b"); got != "a=3Db" {
		t.Errorf("expected escaped escape byte, got %q", got)
	}
}

func TestEncoding_NonASCII(t *testing.T) {
	key := "größe"
	got := dashDot.Decode(dashDot.Encode(key))
	if got != key {
		t.Errorf("expected %q, got %q", key, got)
	}
}
