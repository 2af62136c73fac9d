package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/xelth-com/trainingcms/internal/config"
	"github.com/xelth-com/trainingcms/internal/models"
	"github.com/xelth-com/trainingcms/internal/utils"
)

// MessageRequest is a contact form submission
type MessageRequest struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone"`
	Subject string `json:"subject"`
	Body    string `json:"body" validate:"required,max=5000"`
}

var validate = validator.New()

// validationMessage turns the first failed rule into the response text
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request payload"
	}
	fe := verrs[0]
	switch {
	case fe.StructField() == "Email":
		return "A valid email address is required"
	case fe.Tag() == "max":
		return "Message is too long"
	default:
		return "Name and message are required"
	}
}

// listPublic returns the active records of a public collection.
// Inbound messages are never listed publicly.
func (r *Router) listPublic(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	s, ok := r.Registry.Get(name)
	if !ok || name == config.CollectionMessages {
		respondError(w, http.StatusNotFound, "Unknown collection")
		return
	}

	records, err := s.Records(req.Context())
	if err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// createMessage stores a contact form submission
func (r *Router) createMessage(w http.ResponseWriter, req *http.Request) {
	if r.Registry.Messages == nil {
		respondError(w, http.StatusNotFound, "Messages are disabled")
		return
	}

	var in MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 64*1024)).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Body = strings.TrimSpace(in.Body)

	in.Email = strings.TrimSpace(in.Email)

	if err := validate.Struct(in); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	msg := &models.Message{
		Reference: uuid.New().String(),
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		Subject:   in.Subject,
		Body:      in.Body,
		SourceIP:  utils.ClientIP(req, r.Config.TrustProxy),
	}
	if err := r.Registry.Messages.Create(req.Context(), msg); err != nil {
		respondSyncError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"reference": msg.Reference,
		"status":    "received",
	})
}
