package types

// Attachment is an uploaded file referenced by a user message. Path is
// relative to the attachment store root, never absolute.
type Attachment struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	MediaType string `json:"mediaType"`
	Size      int64  `json:"size"`
}
