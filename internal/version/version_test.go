package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersionStrings(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	defer func() { Version, Commit = oldVersion, oldCommit }()

	Version, Commit = "1.2.3", "abc123"
	if got := Full(); got != "imgcache 1.2.3 (abc123)" {
		t.Fatalf("unexpected full version: %s", got)
	}
	if ua := UserAgent(); !strings.HasPrefix(ua, "imgcache/1.2.3") || strings.Contains(ua, " imgcache") {
		t.Fatalf("unexpected user agent: %s", ua)
	}

	info := Current()
	if info.Version != "1.2.3" || info.Commit != "abc123" || info.GoVersion != runtime.Version() {
		t.Fatalf("unexpected build info: %+v", info)
	}
}
