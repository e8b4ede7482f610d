package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	old := Version
	Version = "v1.2.3"
	defer func() { Version = old }()

	info := Get()
	if info.Version != "v1.2.3" {
		t.Errorf("Version = %q, want v1.2.3", info.Version)
	}
	if !strings.HasPrefix(info.String(), "serialscope v1.2.3") {
		t.Errorf("String() = %q", info.String())
	}
}
