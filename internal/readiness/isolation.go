package readiness

import "lorad/internal/common/fsutil"

// Sentinels that indicate a containerized runtime.
const (
	DockerEnvFile = "/.dockerenv"
	AppDir        = "/app"
)

// DetectIsolated reports whether the process runs inside a container.
// Call once at startup and pass the result along.
func DetectIsolated() bool {
	return DetectIsolatedAt(DockerEnvFile, AppDir)
}

// DetectIsolatedAt is DetectIsolated with explicit sentinel paths.
func DetectIsolatedAt(sentinelFile, installDir string) bool {
	return fsutil.PathExists(sentinelFile) || fsutil.IsDir(installDir)
}
