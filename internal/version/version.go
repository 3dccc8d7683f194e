// Package version carries build metadata set with -ldflags -X.
package version

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// Info is the build metadata as served by /api/version.
type Info struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

func Get() Info {
	return Info{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime}
}

func (i Info) String() string {
	return i.Version + " (" + i.GitSHA + ", built " + i.BuildTime + ")"
}
