package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/agentdeck/agentdeck/internal/attach"
	"github.com/agentdeck/agentdeck/pkg/types"
)

// uploadAttachments handles POST /attachment (multipart, field "files").
// All-or-nothing: a failed file rolls back the whole batch.
func (s *Server) uploadAttachments(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid multipart body")
		return
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "no files in request")
		return
	}

	var files []attach.File
	for _, header := range r.MultipartForm.File["files"] {
		f, err := header.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "failed to read uploaded file")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "failed to read uploaded file")
			return
		}
		files = append(files, attach.File{
			Name:      header.Filename,
			MediaType: header.Header.Get("Content-Type"),
			Data:      data,
		})
	}

	attachments, err := s.attachments.Upload(files)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if attachments == nil {
		attachments = []types.Attachment{}
	}
	writeJSON(w, http.StatusOK, attachments)
}

// readAttachment handles GET /attachment/content?path=
func (s *Server) readAttachment(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "path is required")
		return
	}

	data, err := s.attachments.Open(path)
	if err != nil {
		if errors.Is(err, attach.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "Attachment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
