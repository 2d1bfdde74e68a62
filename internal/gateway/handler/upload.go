package handler

import (
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"auditflow/internal/types"
)

// multipartMemory is how much of a form is buffered in memory; larger parts
// spill to temporary files.
const multipartMemory = 32 << 20

func parseForm(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		return &types.InputError{Field: "form", Err: err}
	}
	return nil
}

// formFile returns the named upload. A missing part or one without a file
// name is an input error.
func formFile(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil, types.NewInputError(field, "no file uploaded")
		}
		return nil, nil, &types.InputError{Field: field, Err: err}
	}
	if strings.TrimSpace(hdr.Filename) == "" {
		f.Close()
		return nil, nil, types.NewInputError(field, "empty filename")
	}
	return f, hdr, nil
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

// acceptsPDF reports whether the Accept header lists application/pdf.
func acceptsPDF(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && strings.EqualFold(mt, "application/pdf") {
			return true
		}
	}
	return false
}

func attachment(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}
