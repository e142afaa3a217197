package fusion

import (
	"context"
	"errors"
	"log"

	"yardguard/internal/data"
	"yardguard/internal/detector"
	"yardguard/internal/metrics"
)

// ErrAllFramesFailed means the detector failed on every frame of a set. The
// coordinator records DETECTION_ERROR for the phase instead of a "nothing
// there" verdict, which would silently poison the training labels.
var ErrAllFramesFailed = errors.New("detector failed on all frames")

// Engine reduces a frame set to a single DetectionVerdict.
type Engine struct {
	detector detector.Client
}

func NewEngine(d detector.Client) *Engine {
	return &Engine{detector: d}
}

// Fuse runs the detector over every frame and reduces to one verdict. A frame
// is a hit if any box meets threshold; verdict confidence is the max across
// hits. Per-frame detector errors skip the frame (non-hit); only a full
// wipeout returns ErrAllFramesFailed. An empty frame set is a valid
// not-detected verdict, not an error.
func (e *Engine) Fuse(ctx context.Context, frames [][]byte, source data.VerdictSource, threshold float64) (data.DetectionVerdict, error) {
	verdict := data.DetectionVerdict{Source: source, FrameCount: len(frames)}
	if len(frames) == 0 {
		return verdict, nil
	}

	failed := 0
	bestFrame := -1
	for i, frame := range frames {
		dets, err := e.detector.Detect(ctx, frame)
		if err != nil {
			failed++
			metrics.RecordDetectorFrame(string(source), "error")
			log.Printf("[WARN] Fusion (%s): detector failed on frame %d/%d: %v", source, i+1, len(frames), err)
			continue
		}

		frameBest := 0.0
		for _, d := range dets {
			if d.Confidence > frameBest {
				frameBest = d.Confidence
			}
		}
		if frameBest >= threshold {
			metrics.RecordDetectorFrame(string(source), "hit")
			// Strictly-greater keeps the earliest frame on ties, so the
			// logged hit index is deterministic.
			if frameBest > verdict.Confidence {
				verdict.Confidence = frameBest
				bestFrame = i
			}
			verdict.Detected = true
		} else {
			metrics.RecordDetectorFrame(string(source), "miss")
		}
	}

	if failed == len(frames) {
		return data.DetectionVerdict{Source: source, FrameCount: 0}, ErrAllFramesFailed
	}
	if verdict.Detected {
		log.Printf("Fusion (%s): hit with confidence %.2f (best frame %d, %d/%d frames usable)",
			source, verdict.Confidence, bestFrame, len(frames)-failed, len(frames))
	}
	return verdict, nil
}
