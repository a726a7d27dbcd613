package httpserver

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/skip2/go-qrcode"

	"flatpaste/internal/storage"
)

const usage = `flatpaste

  upload:   curl -F 'paste=<file.txt' %[1]s
            curl --data-binary @file.txt %[1]s
  retrieve: curl %[1]s<id>
  qr code:  %[1]s<id>/qr

Uploads are limited to %[2]s.
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	base := strings.TrimSuffix(s.canonicalURL(r, ""), "/") + "/"
	_, _ = fmt.Fprintf(w, usage, base, humanize.IBytes(uint64(s.maxBytes)))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)

	src, err := uploadSource(r)
	if err != nil {
		if errors.Is(err, storage.ErrEmptyBody) {
			s.clientError(w, http.StatusBadRequest, "empty paste")
			return
		}
		s.clientError(w, http.StatusBadRequest, "unable to parse upload")
		return
	}

	id, n, err := s.store.Create(r.Context(), src)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.clientError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("paste exceeds %s limit", humanize.IBytes(uint64(tooLarge.Limit))))
		case errors.Is(err, storage.ErrEmptyBody):
			s.clientError(w, http.StatusBadRequest, "empty paste")
		default:
			s.serverError(w, r, err)
		}
		return
	}

	s.logger.Info("paste created", "id", id, "size", n, "request_id", middleware.GetReqID(r.Context()))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Location", s.canonicalURL(r, id))
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, id)
}

// uploadSource returns the first part of a multipart upload, or the raw
// request body for any other content type.
func uploadSource(r *http.Request) (io.Reader, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return r.Body, nil
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	part, err := mr.NextPart()
	if errors.Is(err, io.EOF) {
		return nil, storage.ErrEmptyBody
	}
	if err != nil {
		return nil, err
	}
	return firstPart{part}, nil
}

// firstPart reads one multipart part and closes it at EOF.
type firstPart struct {
	*multipart.Part
}

func (p firstPart) Read(b []byte) (int, error) {
	n, err := p.Part.Read(b)
	if errors.Is(err, io.EOF) {
		_ = p.Part.Close()
	}
	return n, err
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	paste, err := s.store.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.notFound(w)
			return
		}
		s.serverError(w, r, err)
		return
	}
	defer paste.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	http.ServeContent(w, r, "", paste.ModTime, paste.ReadSeekCloser)
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	paste, err := s.store.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.notFound(w)
			return
		}
		s.serverError(w, r, err)
		return
	}
	_ = paste.Close()

	png, err := qrcode.Encode(s.canonicalURL(r, id), qrcode.Medium, 256)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) clientError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, storage.ErrAllocationExhausted) {
		status = http.StatusServiceUnavailable
	}
	s.logger.Error("internal error",
		"error", err,
		"kind", storage.KindOf(err).String(),
		"request_id", middleware.GetReqID(r.Context()),
	)
	http.Error(w, http.StatusText(status), status)
}

func (s *Server) notFound(w http.ResponseWriter) {
	http.Error(w, "not found", http.StatusNotFound)
}
