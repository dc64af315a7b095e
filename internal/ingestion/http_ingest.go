package ingestion

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxTxBodyBytes bounds admin submissions; wire payloads are small.
const maxTxBodyBytes = 1 << 16

// HTTPIngestService provides admin/manual transaction injection over HTTP.
// It is for operational use and backfills, not for high-throughput
// ingestion (use NATS for that). Submissions enter the same RawTx channel
// as NATS deliveries, so parsing, dedup, and sequencing are identical.
type HTTPIngestService struct {
	txChan chan<- RawTx
}

func NewHTTPIngestService(txChan chan<- RawTx) *HTTPIngestService {
	return &HTTPIngestService{txChan: txChan}
}

type submitTxRequest struct {
	Operation string `json:"operation"`
}

type submitTxResponse struct {
	TxID      string `json:"tx_id"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
}

// Handler returns the POST /v1/tx handler.
func (s *HTTPIngestService) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBodyBytes))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		var req submitTxRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
			return
		}
		if req.Operation == "" {
			http.Error(w, "missing operation", http.StatusBadRequest)
			return
		}

		raw := RawTx{
			Subject:   fmt.Sprintf("watt.tx.submitted.%s", req.Operation),
			Operation: req.Operation,
			Data:      body,
			Timestamp: time.Now(),
			AckFunc:   func() {},
			NakFunc:   func() {},
		}

		// Reject the submission outright if it won't parse; NATS deliveries
		// get the same treatment in the processing loop.
		parsed, err := ParseRawTx(raw, req.Operation)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		select {
		case s.txChan <- raw:
		case <-r.Context().Done():
			http.Error(w, "submission cancelled", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(submitTxResponse{
			TxID:      parsed.IdempotencyKey(),
			Operation: req.Operation,
			Status:    "queued",
		})
	}
}
