package notify

import "testing"

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		channel string
		want    bool
	}{
		{"sensor.*", "sensor.kitchen", true},
		{"sensor.*", "sensor.", true},
		{"sensor.*", "metrics.cpu", false},
		{"*", "anything", true},
		{"a**b", "axxb", true},
		{"a*b*c", "abxxc", true},
		{"a*b*c", "abxxd", false},
		{"h?llo", "hello", true},
		{"h?llo", "hllo", false},
		{"h[ae]llo", "hallo", true},
		{"h[ae]llo", "hillo", false},
		{"h[^e]llo", "hallo", true},
		{"h[^e]llo", "hello", false},
		{"h[a-c]llo", "hbllo", true},
		{"h[c-a]llo", "hbllo", true},
		{"h[a-c]llo", "hdllo", false},
		{"h[\\]]llo", "h]llo", true},
		{"news.{", "news.{", true},
		{"news.{a,b}", "news.a", false},
		{"news.{a,b}", "news.{a,b}", true},
		{"a\\*b", "a*b", true},
		{"a\\*b", "axb", false},
		{"a\\", "a\\", true},
		{"sensor.[", "sensor.x", false},
		{"sensor.[xy", "sensor.y", true},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"*", "", false},
	}

	for _, tt := range tests {
		if got := MatchPattern(tt.pattern, tt.channel); got != tt.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.channel, got, tt.want)
		}
	}
}
