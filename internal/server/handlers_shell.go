package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentdeck/agentdeck/internal/terminal"
)

// RunShellRequest represents the request body for running a shell command.
type RunShellRequest struct {
	Command string `json:"command"`
}

// runShell handles POST /shell. The command runs to completion in the
// workspace directory; a non-zero exit status is a normal response, not an
// HTTP error.
func (s *Server) runShell(w http.ResponseWriter, r *http.Request) {
	var req RunShellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	result, err := s.runner.Run(r.Context(), req.Command)
	if err != nil {
		var syntaxErr *terminal.SyntaxError
		if errors.Is(err, terminal.ErrEmptyCommand) || errors.As(err, &syntaxErr) {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}
