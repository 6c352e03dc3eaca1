package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/marcodenti/gymbook/services/booking-service/internal/model"
)

// Every response is wrapped in the same envelope: {"success":true,"data":...}
// or {"success":false,"error":"..."}. Clients branch on the flag alone.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// fail maps the error through the service taxonomy. Internal errors are
// masked; the detail stays in the logs.
func fail(w http.ResponseWriter, err error) {
	status := model.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}
