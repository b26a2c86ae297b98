package amqp

import (
	"encoding/json"
	"time"

	"ricevute/internal/core"
)

// UsageMessage carries one AI usage-audit record from the API process to
// the audit worker. It is self-contained: the worker never has to read
// back from the API's database to persist it.
type UsageMessage struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id,omitempty"`
	FunctionName     string    `json:"function_name"`
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	ReceiptID        string    `json:"receipt_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	Timestamp        time.Time `json:"timestamp"`
}

func NewUsageMessage(rec core.UsageRecord) *UsageMessage {
	return &UsageMessage{
		ID:               rec.ID,
		UserID:           rec.UserID,
		FunctionName:     rec.FunctionName,
		Model:            rec.Model,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.TotalTokens,
		CostUSD:          rec.CostUSD,
		ReceiptID:        rec.ReceiptID,
		CreatedAt:        rec.CreatedAt,
		Timestamp:        time.Now(),
	}
}

// Record converts the message back into the domain form the storage layer
// persists.
func (m *UsageMessage) Record() core.UsageRecord {
	return core.UsageRecord{
		ID:               m.ID,
		UserID:           m.UserID,
		FunctionName:     m.FunctionName,
		Model:            m.Model,
		PromptTokens:     m.PromptTokens,
		CompletionTokens: m.CompletionTokens,
		TotalTokens:      m.TotalTokens,
		CostUSD:          m.CostUSD,
		ReceiptID:        m.ReceiptID,
		CreatedAt:        m.CreatedAt,
	}
}

func (m *UsageMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func UsageMessageFromJSON(data []byte) (*UsageMessage, error) {
	var msg UsageMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
