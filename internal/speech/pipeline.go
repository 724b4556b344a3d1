// Package speech defines the contract with the external speech pipeline
// (transcription, diarization, and voice-embedding extraction) and provides
// an HTTP client for a pipeline sidecar service.
//
// The neural models themselves live outside this repository; audio reaches
// the pipeline as mono 16 kHz PCM WAV (or MP3, converted upstream).
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nate-ai/nate/pkg/types"
)

// ErrUnsupportedFormat indicates an upload in a format the pipeline does
// not accept.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ErrPipeline wraps any failure from the speech pipeline backend.
var ErrPipeline = errors.New("speech pipeline error")

// Pipeline is the interface to the external speech stack. Calls are
// blocking, synchronous, and potentially slow; callers bound them with the
// request context and must not hold store locks across them.
type Pipeline interface {
	// Transcribe returns the full transcript of the audio.
	Transcribe(ctx context.Context, audio []byte) (string, error)

	// Diarize returns the full transcript plus the diarized speaker turns,
	// each carrying a raw voice embedding. Segment order is whatever the
	// diarizer emits; callers needing monotonic time order must sort.
	Diarize(ctx context.Context, audio []byte) (string, []types.DiarizedSegment, error)

	// EmbedUtterance extracts a single voice embedding from the audio,
	// used during voice enrollment.
	EmbedUtterance(ctx context.Context, audio []byte) ([]float64, error)
}

// acceptedExtensions lists the upload formats the pipeline accepts.
// Conversion from other containers happens outside the core.
var acceptedExtensions = map[string]bool{
	"wav": true,
	"mp3": true,
}

// ValidateFilename checks the extension of an uploaded file against the
// accepted audio formats. Returns ErrUnsupportedFormat with the offending
// name otherwise.
func ValidateFilename(name string) error {
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}

	ext := strings.ToLower(name[idx+1:])
	if !acceptedExtensions[ext] {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}

	return nil
}
