package stackprof

import (
	"fmt"
	"time"

	"github.com/wudi/stackprof/internal/storage"
)

const timestampLayout = "20060102_150405"

// Name derives the artifact file name for a capture, e.g.
// stackprof-20171004_175816-41860-GET_v1_users-0308ms.dump.
// Same-second captures of the same request may collide.
func Name(start time.Time, pid int, method, path string, d time.Duration) string {
	return fmt.Sprintf("%s%s-%d-%s%s-%04dms%s",
		storage.ArtifactPrefix,
		start.Format(timestampLayout),
		pid,
		method,
		FlattenPath(path),
		d.Milliseconds(),
		storage.ArtifactSuffix,
	)
}

// FlattenPath replaces every byte outside [A-Za-z0-9_] with '_'.
func FlattenPath(path string) string {
	b := []byte(path)
	for i, c := range b {
		if !isWordByte(c) {
			b[i] = '_'
		}
	}
	return string(b)
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
