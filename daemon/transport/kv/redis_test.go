package kv

import "testing"

func TestRedisStoreKey(t *testing.T) {
	cases := []struct {
		prefix string
		domain string
		leaf   string
		want   string
	}{
		{"vhostmd", "1", "vm", "vhostmd/1/vm"},
		{"vhostmd", "1", "metrics", "vhostmd/1/metrics"},
		{"", "2", "vm", "2/vm"},
	}
	for _, tc := range cases {
		r := &RedisStore{Prefix: tc.prefix}
		if got := r.key(tc.domain, tc.leaf); got != tc.want {
			t.Errorf("key(%q, %q) with prefix %q = %q, want %q", tc.domain, tc.leaf, tc.prefix, got, tc.want)
		}
	}
}
