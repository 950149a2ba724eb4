package cachekey

import "testing"

func TestOfIsDeterministic(t *testing.T) {
	id := "http://x/a.png"
	first := Of(id)
	for i := 0; i < 10; i++ {
		if got := Of(id); got != first {
			t.Fatalf("同一标识应得到相同键: %s != %s", got, first)
		}
	}
	if !first.Valid() {
		t.Fatalf("生成的键应合法: %s", first)
	}
}

func TestOfDistinctIdentifiers(t *testing.T) {
	ids := []string{
		"http://x/a.png",
		"http://x/a.png ",
		"http://x/b.png",
		"https://x/a.png",
		"/var/mobile/a.png",
		"asset://a.png",
		"",
	}
	seen := make(map[Key]string, len(ids))
	for _, id := range ids {
		k := Of(id)
		if prev, ok := seen[k]; ok {
			t.Fatalf("键冲突: %q 与 %q", prev, id)
		}
		seen[k] = id
	}
}

func TestKnownDigest(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Of("abc"); got.String() != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestShard(t *testing.T) {
	k := Of("abc")
	testCases := []struct {
		name string
		n    int
		want string
	}{
		{"disabled", 0, ""},
		{"two", 2, "ba"},
		{"overflow", Size + 10, k.String()},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := k.Shard(tc.n); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestValidRejectsForeignKeys(t *testing.T) {
	for _, raw := range []string{"", "../etc/passwd", "BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD"} {
		if Key(raw).Valid() {
			t.Fatalf("非法键不应通过校验: %q", raw)
		}
	}
}
