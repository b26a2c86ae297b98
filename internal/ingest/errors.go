package ingest

import "errors"

// Hard ingestion failures. Each one is terminal for the attempt: the user
// re-uploads or fills the form manually. A partial draft is never produced.
var (
	ErrImageTooLarge     = errors.New("image exceeds size limit")
	ErrEmptyImage        = errors.New("no image data provided")
	ErrExtractionParse   = errors.New("extraction response is not valid JSON")
	ErrExtractionFormat  = errors.New("extraction response is not a JSON object")
	ErrEmptyExtraction   = errors.New("extraction returned no items")
	ErrMissingCategory   = errors.New("extracted item carries no category")
	ErrExtractionTimeout = errors.New("extraction call timed out")
	ErrExtractorOffline  = errors.New("extraction backend not configured")
)
