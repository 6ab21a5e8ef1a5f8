package wiki

import (
	"errors"
	"fmt"
	"strings"
)

// EmbeddingConfigError reports an upstream embedding misconfiguration
// detected by signature-matching the raw model response. It is fatal to the
// whole job and is never retried automatically.
type EmbeddingConfigError struct {
	Signature string
}

func (e *EmbeddingConfigError) Error() string {
	return fmt.Sprintf("embedding configuration error: %s", e.Signature)
}

// StructureNotFoundError reports a response with no well-formed
// wiki_structure payload. Fatal to the job.
type StructureNotFoundError struct {
	Reason string
}

func (e *StructureNotFoundError) Error() string {
	return fmt.Sprintf("no wiki structure found in response: %s", e.Reason)
}

// PageGenerationError reports a per-page generation failure. It is
// recoverable: the scheduler stores it as page content and continues.
type PageGenerationError struct {
	PageID string
	Err    error
}

func (e *PageGenerationError) Error() string {
	return fmt.Sprintf("generating page %s: %v", e.PageID, e.Err)
}

func (e *PageGenerationError) Unwrap() error { return e.Err }

// IsEmbeddingConfigError reports whether err is an EmbeddingConfigError.
func IsEmbeddingConfigError(err error) bool {
	var ec *EmbeddingConfigError
	return errors.As(err, &ec)
}

// Known failure signatures embedded by the retrieval layer in otherwise
// plain-text responses. Checked before any parse attempt.
var embeddingErrorSignatures = []string{
	"Environment variable OPENAI_API_KEY must be set",
	"Error preparing retriever",
	"Ollama model not found",
}

// DetectUpstreamError scans a raw response for the known embedding failure
// signatures. It returns a non-nil *EmbeddingConfigError on a match, nil
// otherwise. This check takes precedence over structural parsing.
func DetectUpstreamError(response string) error {
	for _, sig := range embeddingErrorSignatures {
		if strings.Contains(response, sig) {
			return &EmbeddingConfigError{Signature: sig}
		}
	}
	return nil
}
