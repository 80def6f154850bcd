package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunPipelineNilProcessor(t *testing.T) {
	md, err := runPipeline(nil, time.Second, []byte("frame"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if md != nil {
		t.Errorf("metadata = %+v, want nil", md)
	}
}

func TestRunPipelineSuccess(t *testing.T) {
	p := ProcessorFunc(func(ctx context.Context, payload []byte) (*FrameMetadata, error) {
		return &FrameMetadata{
			Detections: []Detection{{Class: "banana", Confidence: 0.93}},
			Confidence: 0.93,
		}, nil
	})

	md, err := runPipeline(p, time.Second, []byte("frame"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(md.Detections) != 1 || md.Detections[0].Class != "banana" {
		t.Errorf("metadata = %+v, want one banana detection", md)
	}
}

func TestRunPipelineTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	p := ProcessorFunc(func(ctx context.Context, payload []byte) (*FrameMetadata, error) {
		<-block
		return &FrameMetadata{}, nil
	})

	start := time.Now()
	_, err := runPipeline(p, 20*time.Millisecond, []byte("frame"))
	if !errors.Is(err, ErrProcessingTimeout) {
		t.Fatalf("err = %v, want ErrProcessingTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v, pipeline stalled the frame path", elapsed)
	}
}

func TestRunPipelineDeadlineError(t *testing.T) {
	p := ProcessorFunc(func(ctx context.Context, payload []byte) (*FrameMetadata, error) {
		return nil, context.DeadlineExceeded
	})

	_, err := runPipeline(p, time.Second, []byte("frame"))
	if !errors.Is(err, ErrProcessingTimeout) {
		t.Fatalf("err = %v, want ErrProcessingTimeout", err)
	}
}

func TestRunPipelinePassesThroughFailure(t *testing.T) {
	p := ProcessorFunc(func(ctx context.Context, payload []byte) (*FrameMetadata, error) {
		return nil, ErrProcessingUnavailable
	})

	_, err := runPipeline(p, time.Second, []byte("frame"))
	if !errors.Is(err, ErrProcessingUnavailable) {
		t.Fatalf("err = %v, want ErrProcessingUnavailable", err)
	}
}
