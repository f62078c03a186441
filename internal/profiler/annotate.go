package profiler

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/pprof/profile"
)

// annotate records meta as comments on a pprof profile. Data that does not
// parse as pprof is returned unchanged.
func annotate(data []byte, meta Metadata) []byte {
	p, err := profile.ParseData(data)
	if err != nil {
		return data
	}
	p.Comments = append(p.Comments, meta.comments()...)

	var out bytes.Buffer
	if err := p.Write(&out); err != nil {
		return data
	}
	return out.Bytes()
}

func (m Metadata) comments() []string {
	c := make([]string, 0, 5)
	if m.Method != "" {
		c = append(c, "method="+m.Method)
	}
	if m.Path != "" {
		c = append(c, "path="+m.Path)
	}
	if m.RequestID != "" {
		c = append(c, "request_id="+m.RequestID)
	}
	if !m.StartedAt.IsZero() {
		c = append(c, "started_at="+m.StartedAt.UTC().Format(time.RFC3339Nano))
	}
	c = append(c, fmt.Sprintf("duration=%s", m.Duration))
	return c
}
