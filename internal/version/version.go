// Package version exposes build metadata injected at link time.
package version

import "os"

// Set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns the version payload served by the API.
func Info() map[string]string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	return map[string]string{
		"name":        "IRT Analysis Platform",
		"version":     Version,
		"commit_hash": Commit,
		"build_date":  Date,
		"environment": env,
	}
}
