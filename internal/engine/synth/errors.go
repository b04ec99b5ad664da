package synth

import (
	"errors"
	"fmt"
)

var (
	ErrWriteFailure      = errors.New("configuration write failed")
	ErrDuplicateArtifact = errors.New("duplicate configuration artifact")
)

// SynthesisError reports a failed synthesis. Path is the artifact or
// directory involved.
type SynthesisError struct {
	Kind error
	Path string
	Err  error
}

func (e *SynthesisError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Path)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SynthesisError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func writeFailure(path string, err error) *SynthesisError {
	return &SynthesisError{Kind: ErrWriteFailure, Path: path, Err: err}
}
