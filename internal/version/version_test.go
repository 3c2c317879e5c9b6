package version

import (
	"strings"
	"testing"
)

func TestString_Override(t *testing.T) {
	original := Version
	t.Cleanup(func() { Version = original })

	Version = "v1.4.2"
	if got := String(); got != "1.4.2" {
		t.Errorf("Expected 1.4.2, got %q", got)
	}
	if got := UserAgent(); got != "taskload/1.4.2" {
		t.Errorf("Unexpected user agent %q", got)
	}
}

func TestUserAgent_Default(t *testing.T) {
	if !strings.HasPrefix(UserAgent(), "taskload/") {
		t.Errorf("Unexpected user agent %q", UserAgent())
	}
}
