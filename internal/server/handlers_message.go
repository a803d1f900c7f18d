package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agentdeck/agentdeck/internal/attach"
	"github.com/agentdeck/agentdeck/internal/queue"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/turn"
	"github.com/agentdeck/agentdeck/pkg/types"
)

// maxUploadBytes caps one multipart submission.
const maxUploadBytes = 32 << 20

// SendMessageRequest represents the JSON request body for submitting a turn.
type SendMessageRequest struct {
	Prompt  string `json:"prompt"`
	ModelID string `json:"modelID,omitempty"`
	Effort  string `json:"effort,omitempty"`
	Plan    bool   `json:"plan,omitempty"`
}

// SendMessageResponse is the acknowledgment for a submission.
type SendMessageResponse struct {
	Queued bool `json:"queued"`
}

// getMessages handles GET /session/{sessionID}/message
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := s.store.Get(sessionID); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	messages := s.store.Messages(sessionID)
	if messages == nil {
		messages = []types.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// sendMessage handles POST /session/{sessionID}/message. The body is either
// JSON or, when files ride along, multipart/form-data. The turn runs in the
// background; the response says whether it started now or was queued behind
// an in-flight turn.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	req, err := parseSubmission(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	queued, err := s.controller.Submit(sessionID, req)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	case errors.Is(err, turn.ErrEmptyRequest):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "prompt is required")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, SendMessageResponse{Queued: queued})
}

// abortSession handles POST /session/{sessionID}/abort
func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.controller.Abort(sessionID); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	writeSuccess(w)
}

// parseSubmission reads a turn submission from either a JSON or a multipart
// body.
func parseSubmission(r *http.Request) (*queue.Request, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		return parseMultipartSubmission(r)
	}

	var body SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	return &queue.Request{
		Prompt:  body.Prompt,
		ModelID: body.ModelID,
		Effort:  body.Effort,
		Plan:    body.Plan,
	}, nil
}

func parseMultipartSubmission(r *http.Request) (*queue.Request, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, errors.New("invalid multipart body")
	}

	req := &queue.Request{
		Prompt:  r.FormValue("prompt"),
		ModelID: r.FormValue("modelID"),
		Effort:  r.FormValue("effort"),
		Plan:    r.FormValue("plan") == "true",
	}

	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["files"] {
			f, err := header.Open()
			if err != nil {
				return nil, errors.New("failed to read uploaded file")
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, errors.New("failed to read uploaded file")
			}
			req.Files = append(req.Files, attach.File{
				Name:      header.Filename,
				MediaType: header.Header.Get("Content-Type"),
				Data:      data,
			})
		}
	}
	return req, nil
}
