// Package version хранит сведения о сборке, заполняемые через -ldflags.
package version

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
)

// Заполняются при сборке:
//
//	-ldflags "-X github.com/vladislavdragonenkov/shoporder/internal/version.Version=v1.2.3"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// BuildInfo отдаётся на /version.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Info returns version information populated via -ldflags.
func Info() BuildInfo {
	return BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

func String() string {
	return fmt.Sprintf("version=%s commit=%s build_time=%s", Version, GitCommit, BuildTime)
}

// Handler отдаёт BuildInfo в JSON.
func Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Info())
}
