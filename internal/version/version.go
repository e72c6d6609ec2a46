package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion returns the sales-service release version.
func GetVersion() string { return version }

// GetCommit returns the git commit the binary was built from.
func GetCommit() string { return commit }

// GetDate returns the build date.
func GetDate() string { return date }

// String форматирует сведения о сборке для логов и --version.
func String() string {
	return fmt.Sprintf("sales-service version=%s commit=%s date=%s", version, commit, date)
}
