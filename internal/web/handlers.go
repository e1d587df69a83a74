package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/ocr-panel/internal/clipboard"
	"github.com/zombor/ocr-panel/internal/panel"
	"github.com/zombor/ocr-panel/internal/scanning"
)

const (
	sessionCookie = "ocr_panel_session"

	// maxRequestSize leaves room above panel.MaxFileSize so oversized
	// images still reach the panel and get the size toast
	maxRequestSize = int64(16 << 20)
	maxFormMemory  = int64(8 << 20)
	maxReportSize  = int64(4 << 10)
)

// errorResponse is the body of every non-2xx panel response
type errorResponse struct {
	Error string       `json:"error"`
	State *panel.State `json:"state,omitempty"`
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeState(w http.ResponseWriter, p *panel.Panel) {
	writeJSON(w, http.StatusOK, p.State())
}

func writeError(w http.ResponseWriter, code int, message string, p *panel.Panel) {
	resp := errorResponse{Error: message}
	if p != nil {
		state := p.State()
		resp.State = &state
	}
	writeJSON(w, code, resp)
}

// panelFor resolves the caller's panel, issuing a session cookie when needed
func (s *Server) panelFor(w http.ResponseWriter, r *http.Request) (*panel.Panel, bool) {
	var id string
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}

	sessionID, p, ok := s.sessions.Acquire(id)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down", nil)
		return nil, false
	}
	if sessionID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sessionID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return p, true
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

// handleGetState returns the caller's panel state
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panelFor(w, r)
	if !ok {
		return
	}
	writeState(w, p)
}

// handleSelectFile takes a file chosen in the file picker
func (s *Server) handleSelectFile(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panelFor(w, r)
	if !ok {
		return
	}

	headers, ok := parseUpload(w, r, "file", p)
	if !ok {
		return
	}
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.", p)
		return
	}

	f, err := readFormFile(headers[0])
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", headers[0].Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.", p)
		return
	}

	s.respondIntake(w, p, p.Intake(f))
}

// handleDrop takes the files of a drop event; only the first is used
func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panelFor(w, r)
	if !ok {
		return
	}

	headers, ok := parseUpload(w, r, "files", p)
	if !ok {
		return
	}

	var files []*panel.File
	if len(headers) > 0 {
		f, err := readFormFile(headers[0])
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", headers[0].Filename)
			writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.", p)
			return
		}
		files = append(files, f)
	}

	s.respondIntake(w, p, p.Drop(files))
}

func (s *Server) respondIntake(w http.ResponseWriter, p *panel.Panel, err error) {
	var vErr *panel.ValidationError
	switch {
	case err == nil:
		writeState(w, p)
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, err.Error(), p)
	case errors.Is(err, panel.ErrClosed):
		writeError(w, http.StatusGone, err.Error(), nil)
	default:
		slog.Error("Error accepting file", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", p)
	}
}

// parseUpload reads the multipart form and returns the headers for field.
// It writes the error response itself and reports false on failure.
func parseUpload(w http.ResponseWriter, r *http.Request, field string, p *panel.Panel) ([]*multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, panel.MsgFileTooLarge, p)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "Error parsing form", p)
		return nil, false
	}
	return r.MultipartForm.File[field], true
}

// readFormFile converts an uploaded part into a panel.File. Parts above the
// size limit are not read; their declared size is enough to reject them.
func readFormFile(header *multipart.FileHeader) (*panel.File, error) {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromName(header.Filename)
	}

	f := &panel.File{
		Name:        header.Filename,
		ContentType: contentType,
		Size:        header.Size,
	}
	if header.Size > panel.MaxFileSize {
		return f, nil
	}

	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	f.Data = data
	return f, nil
}

// contentTypeFromName guesses the media type the way a browser would for a picked file
func contentTypeFromName(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// handleRemoveFile clears the selection
func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panelFor(w, r)
	if !ok {
		return
	}
	p.Remove(nil)
	writeState(w, p)
}

// handleDragOver marks the drop zone active
func (s *Server) handleDragOver(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panelFor(w, r)
	if !ok {
		return
	}
	p.DragOver()
	writeState(w, p)
}

// handleDragLeave marks the drop zone inactive
func (s *Server) handleDragLeave(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panelFor(w, r)
	if !ok {
		return
	}
	p.DragLeave()
	writeState(w, p)
}

// handleExtract runs OCR on the selected file
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panelFor(w, r)
	if !ok {
		return
	}

	err := p.Extract()
	switch {
	case err == nil:
		writeState(w, p)
	case errors.Is(err, panel.ErrNotReady), errors.Is(err, panel.ErrStale):
		writeError(w, http.StatusConflict, err.Error(), p)
	case errors.Is(err, scanning.ErrUnexpectedFormat):
		writeError(w, http.StatusUnprocessableEntity, panel.MsgInvalidFormat, p)
	default:
		writeError(w, http.StatusBadGateway, panel.MsgExtractFailed, p)
	}
}

// copyReport is the outcome of the page's own clipboard write
type copyReport struct {
	OK    *bool  `json:"ok"`
	Error string `json:"error"`
}

// handleCopy records a clipboard write. The page writes the user's clipboard
// itself and posts the outcome; a request without a report falls back to the
// panel's server-side clipboard.
func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panelFor(w, r)
	if !ok {
		return
	}

	var report copyReport
	err := json.NewDecoder(io.LimitReader(r.Body, maxReportSize)).Decode(&report)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid copy report", p)
		return
	}

	if report.OK != nil {
		if !*report.OK {
			slog.Warn("Browser clipboard write failed", "error", report.Error)
		}
		err = p.CopyTo(r.Context(), clipboard.NewBrowser(*report.OK, report.Error))
	} else {
		err = p.Copy(r.Context())
	}

	switch {
	case err == nil:
		writeState(w, p)
	case errors.Is(err, panel.ErrNothingToCopy):
		writeError(w, http.StatusConflict, err.Error(), p)
	case errors.Is(err, panel.ErrNoClipboard):
		writeError(w, http.StatusBadRequest, "Copy report required", p)
	default:
		writeError(w, http.StatusInternalServerError, panel.MsgCopyFailed, p)
	}
}

// handleDismissToast removes a toast before it expires
func (s *Server) handleDismissToast(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panelFor(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid toast ID", p)
		return
	}
	if !p.DismissToast(id) {
		writeError(w, http.StatusNotFound, "Toast not found", p)
		return
	}
	writeState(w, p)
}

// handleClose tears down the caller's panel, e.g. when the page unloads
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		s.sessions.Release(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
