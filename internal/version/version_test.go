package version

import "testing"

func TestGet(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	info := Get()
	if info.Version != "1.2.3" || info.GitSHA != GitSHA {
		t.Errorf("Get() = %+v", info)
	}
	if got, want := info.String(), "1.2.3 ("+GitSHA+", built "+BuildTime+")"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
