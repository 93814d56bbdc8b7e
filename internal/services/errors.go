package services

import (
	"fmt"
	"strings"
)

// FileError is one failed file of a batch.
type FileError struct {
	Filename string
	Err      error
}

// UploadError aggregates every per-file failure of a batch. It is reported
// once, after all transfers have settled.
type UploadError struct {
	Total    int
	Failures []FileError
}

func (e *UploadError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Filename, f.Err))
	}
	return fmt.Sprintf("upload failed for %d of %d files: %s", len(e.Failures), e.Total, strings.Join(parts, "; "))
}

// Unwrap exposes the per-file causes to errors.Is and errors.As.
func (e *UploadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
