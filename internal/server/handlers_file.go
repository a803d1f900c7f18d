package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/agentdeck/agentdeck/internal/workspace"
)

// FileContentResponse carries one file's contents.
type FileContentResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// listFiles handles GET /file?path=
func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}

	entries, err := s.workspace.List(path)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// readFile handles GET /file/content?path=
func (s *Server) readFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "path is required")
		return
	}

	data, err := s.workspace.ReadFile(path)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FileContentResponse{Path: path, Content: string(data)})
}

// searchFiles handles GET /find/file?query=&limit=
func (s *Server) searchFiles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "query is required")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	matches, err := s.workspace.Search(query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if matches == nil {
		matches = []workspace.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func writeWorkspaceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Path not found")
	case errors.Is(err, workspace.ErrOutsideRoot):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Path is outside the workspace")
	case errors.Is(err, workspace.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "File too large")
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
