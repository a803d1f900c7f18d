package attach

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadAndOpen(t *testing.T) {
	st, err := NewStore(t.TempDir())
	require.NoError(t, err)

	attachments, err := st.Upload([]File{
		{Name: "notes.txt", MediaType: "text/plain", Data: []byte("hello")},
		{Name: "image.png", MediaType: "image/png", Data: []byte{0x89, 0x50}},
	})
	require.NoError(t, err)
	require.Len(t, attachments, 2)

	assert.Equal(t, "notes.txt", attachments[0].Name)
	assert.Equal(t, "text/plain", attachments[0].MediaType)
	assert.Equal(t, int64(5), attachments[0].Size)
	assert.NotEmpty(t, attachments[0].ID)
	assert.NotEqual(t, attachments[0].ID, attachments[1].ID)

	data, err := st.Open(attachments[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestUploadStripsDirectoryFromName(t *testing.T) {
	st, err := NewStore(t.TempDir())
	require.NoError(t, err)

	attachments, err := st.Upload([]File{
		{Name: "../../evil.txt", Data: []byte("x")},
	})
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "evil.txt", attachments[0].Name)
	assert.Equal(t, filepath.Join(attachments[0].ID, "evil.txt"), attachments[0].Path)
}

func TestUploadRollsBackOnFailure(t *testing.T) {
	base := t.TempDir()
	st, err := NewStore(base)
	require.NoError(t, err)

	_, err = st.Upload([]File{
		{Name: "ok.txt", Data: []byte("ok")},
		{Name: "", Data: []byte("no name")},
	})
	require.Error(t, err)

	// The first file must not survive the failed batch.
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenMissing(t *testing.T) {
	st, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = st.Open("no-such-id/file.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRejectsEscape(t *testing.T) {
	base := t.TempDir()
	outside := filepath.Join(filepath.Dir(base), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))
	t.Cleanup(func() { os.Remove(outside) })

	st, err := NewStore(base)
	require.NoError(t, err)

	_, err = st.Open("../outside.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}
