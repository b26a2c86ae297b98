// Package gemini implements the extraction backend on top of the Gemini
// vision API.
package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"ricevute/internal/ingest"
)

// DefaultModel balances extraction quality against per-call cost.
const DefaultModel = "gemini-2.0-flash"

const extractionPrompt = `You are a receipt processing AI. Extract all relevant information from the receipt image and return it as RAW JSON. Do NOT use markdown formatting. Use this exact structure:
{
  "vendor_name": "string",
  "date": "YYYY-MM-DD",
  "total_amount": number,
  "tax_amount": number,
  "tip_amount": number,
  "items": [
    {
      "name": "string",
      "quantity": number,
      "unit_price": number,
      "total_price": number,
      "category": "string",
      "subcategory": "string"
    }
  ]
}
Common categories: Food, Transportation, Shopping, Entertainment, Healthcare, Utilities, Housing, Personal Care, Education, Travel, Other.
Be precise with amounts and dates. Every item must carry a category.`

type Client struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key not configured")
	}
	if model == "" {
		model = DefaultModel
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return &Client{client: cli, model: model}, nil
}

// Extract sends the receipt image to Gemini and returns the raw response
// text plus token accounting. The caller treats the text as untrusted.
func (c *Client) Extract(ctx context.Context, imageDataURI string) (string, ingest.Usage, error) {
	mimeType, data, err := decodeDataURI(imageDataURI)
	if err != nil {
		return "", ingest.Usage{}, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(extractionPrompt),
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.1),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", ingest.Usage{}, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ingest.Usage{}, fmt.Errorf("gemini: empty response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", ingest.Usage{}, fmt.Errorf("gemini: response has no text parts")
	}

	usage := ingest.Usage{Model: c.model}
	if um := resp.UsageMetadata; um != nil {
		usage.PromptTokens = int64(um.PromptTokenCount)
		usage.CompletionTokens = int64(um.CandidatesTokenCount)
		usage.TotalTokens = int64(um.TotalTokenCount)
	}
	return text, usage, nil
}

func decodeDataURI(uri string) (mimeType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("gemini: not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("gemini: malformed data URI")
	}
	mimeType = strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("gemini: decode image payload: %w", err)
	}
	return mimeType, data, nil
}
