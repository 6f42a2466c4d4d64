// Package transcodetest provides a Runner that imitates ffmpeg by writing
// placeholder output files.
package transcodetest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Call is one recorded invocation.
type Call struct {
	Name string
	Args []string
}

// Runner records calls and writes the files ffmpeg would have produced:
// the last argument, plus Segments segments when an HLS segment pattern is given.
type Runner struct {
	mu       sync.Mutex
	calls    []Call
	Segments int

	// FailOn makes calls whose args contain this value fail
	FailOn string
}

func NewRunner() *Runner {
	return &Runner{Segments: 2}
}

func (r *Runner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Name: name, Args: append([]string(nil), args...)})
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.FailOn != "" {
		for _, a := range args {
			if strings.Contains(a, r.FailOn) {
				return []byte("Invalid data found when processing input"), fmt.Errorf("exit status 1")
			}
		}
	}
	if len(args) == 0 {
		return nil, nil
	}

	for i, a := range args {
		if a == "-hls_segment_filename" && i+1 < len(args) {
			for n := 0; n < r.Segments; n++ {
				if err := os.WriteFile(fmt.Sprintf(args[i+1], n), []byte("segment"), 0o644); err != nil {
					return nil, err
				}
			}
		}
	}
	out := args[len(args)-1]
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(out, []byte("output"), 0o644); err != nil {
		return nil, err
	}
	return []byte("ok"), nil
}

// Calls returns a copy of the recorded calls
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}
