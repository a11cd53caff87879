package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// saveUpload copies the multipart "file" field into a fresh temporary directory under
// its base name. cleanup removes the directory and any multipart spill files; callers
// must defer it even when err is not nil.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (path string, cleanup func(), err error) {
	var dir string
	cleanup = func() {
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll() //nolint:errcheck
		}
		if dir != "" {
			os.RemoveAll(dir) //nolint:errcheck
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", cleanup, &ErrValidation{Field: "file", Message: "a CSV file upload is required"}
	}
	defer file.Close()

	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(header.Filename, `\`, "/")))
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return "", cleanup, &ErrValidation{Field: "file", Message: fmt.Sprintf("%q is not a .csv file", header.Filename)}
	}

	dir, err = os.MkdirTemp(s.uploadDir, "upload-*")
	if err != nil {
		return "", cleanup, fmt.Errorf("failed to create upload directory: %w", err)
	}

	path = filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", cleanup, fmt.Errorf("failed to save upload: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		return "", cleanup, fmt.Errorf("failed to save upload: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", cleanup, fmt.Errorf("failed to save upload: %w", err)
	}
	return path, cleanup, nil
}
