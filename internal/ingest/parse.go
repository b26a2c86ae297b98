package ingest

import (
	"encoding/json"
	"strings"
)

// RawItem mirrors one line item of the extraction payload. Field names
// follow the prompt contract, not any Go convention: the model is told to
// emit exactly these keys.
type RawItem struct {
	Name        string  `json:"name"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
}

// RawReceipt is the shape the extraction model is asked to produce.
type RawReceipt struct {
	VendorName  string    `json:"vendor_name"`
	Date        string    `json:"date"`
	TotalAmount float64   `json:"total_amount"`
	TaxAmount   float64   `json:"tax_amount"`
	TipAmount   float64   `json:"tip_amount"`
	Items       []RawItem `json:"items"`
}

// DecodeExtraction turns the raw model output into a RawReceipt.
//
// The extractor is a free-text model, not a typed API, so decoding runs as a
// small state machine over progressively more forgiving stages:
//
//  1. strict: parse the whole response as JSON
//  2. defenced: strip a fenced code block wrapper and retry
//  3. brace scan: parse the first balanced {...} span in the text
//
// If no stage yields JSON the result is ErrExtractionParse. A stage that
// yields JSON which is not an object fails with ErrExtractionFormat; there
// is no guessing beyond that.
func DecodeExtraction(raw string) (RawReceipt, error) {
	candidate, ok := findJSON(raw)
	if !ok {
		return RawReceipt{}, ErrExtractionParse
	}

	// Reject non-object payloads (arrays, bare scalars) before binding.
	var probe any
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return RawReceipt{}, ErrExtractionParse
	}
	if _, isObject := probe.(map[string]any); !isObject {
		return RawReceipt{}, ErrExtractionFormat
	}

	var rec RawReceipt
	if err := json.Unmarshal([]byte(candidate), &rec); err != nil {
		return RawReceipt{}, ErrExtractionFormat
	}
	return rec, nil
}

func findJSON(raw string) (string, bool) {
	for _, stage := range []func(string) (string, bool){
		decodeStrict,
		decodeDefenced,
		decodeBraceScan,
	} {
		if candidate, ok := stage(raw); ok {
			return candidate, true
		}
	}
	return "", false
}

func decodeStrict(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return "", false
	}
	return trimmed, true
}

// decodeDefenced strips a markdown code fence wrapper. Vision models love
// wrapping their answer in ```json ... ``` despite being told not to.
func decodeDefenced(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return "", false
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return decodeStrict(trimmed)
}

// decodeBraceScan extracts the first balanced {...} span by brace-depth
// counting, skipping braces inside string literals.
func decodeBraceScan(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return decodeStrict(raw[start : i+1])
				}
			}
		}
	}
	return "", false
}
