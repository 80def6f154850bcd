package relay

import (
	"context"
	"errors"
	"time"
)

// Processor augments a raw frame with detection and freshness metadata. It
// wraps the external computer-vision detector; the relay never implements
// detection itself. Implementations should honour ctx cancellation, but the
// relay does not rely on it: a late result is discarded.
type Processor interface {
	Process(ctx context.Context, payload []byte) (*FrameMetadata, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, payload []byte) (*FrameMetadata, error)

func (f ProcessorFunc) Process(ctx context.Context, payload []byte) (*FrameMetadata, error) {
	return f(ctx, payload)
}

type pipelineResult struct {
	md  *FrameMetadata
	err error
}

// runPipeline invokes p with a deadline. If the deadline elapses before p
// returns, runPipeline reports ErrProcessingTimeout immediately and the
// in-flight call's eventual result is discarded.
func runPipeline(p Processor, timeout time.Duration, payload []byte) (*FrameMetadata, error) {
	if p == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resCh := make(chan pipelineResult, 1)
	go func() {
		md, err := p.Process(ctx, payload)
		resCh <- pipelineResult{md: md, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return nil, ErrProcessingTimeout
		}
		return res.md, res.err
	case <-ctx.Done():
		return nil, ErrProcessingTimeout
	}
}
