package topic

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		published string
		pattern   string
		want      bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/+/c", true},
		{"a/b/c", "a/#", true},
		{"a/b/c", "#", true},
		{"a/b", "a/+/c", false},
		{"a/b/c/d", "a/b/c", false}, // 无隐式尾部通配
		{"a/b", "a/b/+", false},
		{"a/b/c", "a/+/+", true},
		{"a/b/c", "a/b/#", true},
		{"a/b/c", "b/+/c", false},
		{"hanqi/gateway/GW001/report", "hanqi/gateway/+/report", true},
		{"hanqi/gateway/GW001/ota/report", "hanqi/gateway/+/ota/report", true},
		{"hanqi/gateway/GW001/ota/report", "hanqi/gateway/+/report", false},
		{"hanqi/gateway/GW001/command", "hanqi/gateway/GW001/#", true},
	}
	for _, c := range cases {
		if got := Match(c.published, c.pattern); got != c.want {
			t.Fatalf("Match(%q, %q) = %v, want %v", c.published, c.pattern, got, c.want)
		}
	}
}

func TestMatchEmptySegments(t *testing.T) {
	if !Match("", "") {
		t.Fatalf("empty topic should match empty pattern")
	}
	if Match("a", "") {
		t.Fatalf("empty pattern should not match non-empty topic")
	}
}
