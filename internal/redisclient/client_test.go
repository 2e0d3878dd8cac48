package redisclient

import "testing"

func TestKey(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"askshell:", []string{"input", "runs"}, "askshell:input:runs"},
		{"", []string{"ratelimit", "abc"}, "ratelimit:abc"},
		{"askshell:", nil, "askshell:"},
	}
	for _, tt := range tests {
		c := &Client{prefix: tt.prefix}
		if got := c.Key(tt.parts...); got != tt.want {
			t.Errorf("Key(%v) with prefix %q = %q, want %q", tt.parts, tt.prefix, got, tt.want)
		}
	}
}

func TestRunKey(t *testing.T) {
	c := &Client{prefix: "askshell:"}
	if got := c.RunKey("abc", "stream"); got != "askshell:run:abc:stream" {
		t.Errorf("RunKey = %q", got)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("://nope", "", 0, ""); err == nil {
		t.Error("expected parse error")
	}
}
