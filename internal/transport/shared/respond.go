// Package shared centralizes JSON response envelopes so every handler
// translates domain errors the same way.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "dosegate/pkg/domain-errors"
)

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error            string `json:"error"`
	Message          string `json:"message,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty"`
}

// WriteJSON writes a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError maps a coded domain error to its HTTP status and envelope.
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorWithContact(w, err, "")
}

// WriteErrorWithContact writes the error envelope with an emergency contact.
// Failed verification outcomes must always show the patient a way to reach
// the clinic.
func WriteErrorWithContact(w http.ResponseWriter, err error, contact string) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code), EmergencyContact: contact}
	var de *dErrors.Error
	if errors.As(err, &de) {
		resp.Message = de.Message
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), resp)
}
