package upload

import (
	"bytes"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

func newUpload(name string, content []byte) (multipart.File, *multipart.FileHeader) {
	return memFile{bytes.NewReader(content)}, &multipart.FileHeader{
		Filename: name,
		Size:     int64(len(content)),
	}
}

func newTestSaver(t *testing.T, maxSize int64) *Saver {
	t.Helper()
	s, err := NewSaver(t.TempDir(), maxSize, []string{".mp4", ".mov", ".avi", ".mkv"})
	require.NoError(t, err)
	return s
}

func TestSave_StoresFileWithRandomName(t *testing.T) {
	s := newTestSaver(t, 1024)
	file, header := newUpload("My Clip.MP4", []byte("video bytes"))

	path, err := s.Save(file, header)
	require.NoError(t, err)

	assert.Equal(t, ".mp4", filepath.Ext(path))
	assert.NotContains(t, filepath.Base(path), "My Clip")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("video bytes"), data)
}

func TestSave_RejectsUnsupportedExtension(t *testing.T) {
	s := newTestSaver(t, 1024)

	for _, name := range []string{"clip.exe", "clip.wav", "clip", "../../etc/passwd"} {
		file, header := newUpload(name, []byte("x"))
		_, err := s.Save(file, header)
		assert.ErrorIs(t, err, ErrUnsupportedFormat, "name %q", name)
	}
}

func TestSave_RejectsDeclaredOversize(t *testing.T) {
	s := newTestSaver(t, 10)
	file, header := newUpload("clip.mp4", []byte("tiny"))
	header.Size = 11

	_, err := s.Save(file, header)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestSave_RejectsActualOversize(t *testing.T) {
	s := newTestSaver(t, 10)

	// Header lies about the size; the byte count is what matters.
	file, header := newUpload("clip.mp4", []byte(strings.Repeat("a", 64)))
	header.Size = 5

	_, err := s.Save(file, header)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestSave_DistinctNamesForSameFilename(t *testing.T) {
	s := newTestSaver(t, 1024)

	f1, h1 := newUpload("clip.mp4", []byte("one"))
	f2, h2 := newUpload("clip.mp4", []byte("two"))

	p1, err := s.Save(f1, h1)
	require.NoError(t, err)
	p2, err := s.Save(f2, h2)
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
}

func TestAllowed(t *testing.T) {
	s := newTestSaver(t, 1024)

	assert.True(t, s.Allowed("clip.mp4"))
	assert.True(t, s.Allowed("CLIP.MKV"))
	assert.False(t, s.Allowed("clip.gif"))
	assert.False(t, s.Allowed("clip"))
}
