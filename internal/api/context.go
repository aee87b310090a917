package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxContextBytes caps an uploaded network document.
const maxContextBytes = 8 << 20

// handleContextApply swaps a patched network document (the patch
// command's output) into the live run. The next tick moves trains over
// the updated model.
func (s *Server) handleContextApply(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxContextBytes+1))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Failed to read context document")
		return
	}
	if len(raw) == 0 {
		s.writeJSONError(w, http.StatusBadRequest, "Empty context document")
		return
	}
	if len(raw) > maxContextBytes {
		s.writeJSONError(w, http.StatusRequestEntityTooLarge, "Context document too large")
		return
	}

	if err := s.sys.ApplyContext(raw); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid context document: %v", err))
		return
	}

	resp := map[string]interface{}{
		"status": "applied",
		"tick":   s.sys.TickCount(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write apply result")
		return
	}
}
