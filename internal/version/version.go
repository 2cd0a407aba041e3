// Package version хранит build-метаданные sync-сервиса.
package version

import "fmt"

const service = "osync"

// Заполняются при сборке:
//
//	-ldflags "-X .../internal/version.version=v1.2.3 \
//	          -X .../internal/version.gitCommit=$(git rev-parse --short HEAD) \
//	          -X .../internal/version.buildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "0.0.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, gitCommit, buildDate }

// String собирает строку для стартового лога и health-эндпоинта.
func String() string {
	return fmt.Sprintf("%s version=%s commit=%s date=%s", service, version, gitCommit, buildDate)
}
