package pipeline

import (
	"context"
	"log"
	"time"

	"perflens/internal/profiler"
	t "perflens/internal/types"
)

// Profile shells out to the system profiling tools. Disabled runs and every
// resolution or subprocess failure yield absent data, never an error.
type Profile struct {
	Timeout time.Duration // 0 means profiler.DefaultTimeout
}

func (s *Profile) Run(ctx context.Context, in t.ProfileIn) (t.ProfileOut, error) {
	if !in.Enable {
		log.Printf("[profile] profiling disabled, skipping")
		return t.ProfileOut{}, nil
	}
	data, _, err := profiler.Run(ctx, profiler.Options{
		Root:       in.Root,
		Executable: in.Executable,
		Args:       in.Args,
		WorkDir:    in.WorkDir,
		Timeout:    s.Timeout,
	})
	if err != nil {
		return t.ProfileOut{}, err
	}
	if data == nil {
		log.Printf("[profile] no profiling data collected")
	}
	return t.ProfileOut{Data: data}, nil
}
