package version

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	switch {
	case info.Version == "":
		t.Error("version should not be empty")
	case info.GitCommit == "":
		t.Error("commit should not be empty")
	case info.BuildTime == "":
		t.Error("build time should not be empty")
	case !strings.HasPrefix(info.GoVersion, "go"):
		t.Errorf("unexpected go version %q", info.GoVersion)
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"version=", "commit=", "build_time="} {
		if !strings.Contains(s, part) {
			t.Errorf("String should contain %q, got %q", part, s)
		}
	}
}

func TestHandler(t *testing.T) {
	previous := Version
	Version = "v9.9.9"
	t.Cleanup(func() { Version = previous })

	w := httptest.NewRecorder()
	Handler(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var info BuildInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != "v9.9.9" {
		t.Fatalf("expected v9.9.9, got %s", info.Version)
	}
}
