package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = oldVersion, oldCommit })

	Version = "v1.4.0"
	GitCommit = "0123456789abcdef0123"
	got := String()
	if !strings.HasPrefix(got, "v1.4.0 (commit 0123456789ab,") {
		t.Fatalf("String() = %q", got)
	}
	if Info()["gitCommit"] != GitCommit {
		t.Fatalf("Info() = %v", Info())
	}
}
