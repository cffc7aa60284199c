package archive

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Stage reads its input from in and writes its output to out.
// The last stage of a pipeline writes to io.Discard.
type Stage func(ctx context.Context, in io.Reader, out io.Writer) error

var errNoStages = errors.New("pipeline has no stages")

// Run streams src through stages, one goroutine per stage.
//
// The first error, from a stage or from ctx, is recorded once; every pipe is
// then closed with it so blocked stages return, and Run reports that error.
// A stage that returns early has its remaining input drained.
func Run(ctx context.Context, src io.Reader, stages ...Stage) error {
	if len(stages) == 0 {
		return errNoStages
	}

	stageCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		readers = make([]*io.PipeReader, len(stages)-1)
		writers = make([]*io.PipeWriter, len(stages)-1)
		once    sync.Once
		first   error
	)

	for i := range readers {
		readers[i], writers[i] = io.Pipe()
	}

	fail := func(err error) {
		once.Do(func() {
			first = err
			cancel(err)

			for i := range readers {
				_ = readers[i].CloseWithError(err)
				_ = writers[i].CloseWithError(err)
			}
		})
	}

	stop := context.AfterFunc(ctx, func() {
		fail(context.Cause(ctx))
	})
	defer stop()

	var wg sync.WaitGroup

	for i, stage := range stages {
		in := src
		if i > 0 {
			in = readers[i-1]
		}

		out := io.Discard
		if i < len(writers) {
			out = writers[i]
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			err := stage(stageCtx, &contextReader{ctx: stageCtx, r: in}, out)
			if err == nil {
				_, err = io.Copy(io.Discard, in)
			}

			if err != nil {
				fail(err)
				return
			}

			if i < len(writers) {
				_ = writers[i].Close()
			}
		}()
	}

	wg.Wait()

	return first
}

// ReadStage copies its input unchanged. It is the usual first stage.
func ReadStage(_ context.Context, in io.Reader, out io.Writer) error {
	_, err := io.Copy(out, in)
	return err
}

// contextReader stops reading once ctx is done.
type contextReader struct {
	ctx context.Context //nolint:containedctx // Reader has no other way to observe cancellation.
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if c.ctx.Err() != nil {
		return 0, context.Cause(c.ctx)
	}

	return c.r.Read(p)
}
