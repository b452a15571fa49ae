package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// maxUploadSize leaves room for high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeError writes a JSON error response with CORS headers set
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// boolParam reads a boolean form or query value; absent or malformed is false
func boolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.FormValue(name))
	return err == nil && v
}

// handleExtract runs an uploaded document through the pipeline
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}
	if len(data) == 0 {
		writeError(w, "File is empty", http.StatusBadRequest)
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromName(header.Filename)
	}

	outcome, err := s.service.Upload(r.Context(), header.Filename, data, contentType, boolParam(r, "force"))
	if err != nil {
		slog.Error("Error processing upload", "filename", header.Filename, "error", err)
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// handleGetResult returns the stored outcome of one document
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "Document ID required", http.StatusBadRequest)
		return
	}
	record, err := s.service.GetRecord(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, "Result not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting record", "id", id, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleListResults returns every stored outcome
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListRecords()
	if err != nil {
		slog.Error("Error listing records", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleStartBatch launches a batch over the inbox
func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	run, err := s.batch.Start(r.Context(), boolParam(r, "force"))
	switch {
	case errors.Is(err, ErrBatchRunning):
		writeJSON(w, http.StatusConflict, run)
	case err != nil:
		slog.Error("Error starting batch", "error", err)
		writeError(w, "Could not start batch", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusAccepted, run)
	}
}

// handleBatchStatus returns the current or last batch status
func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.batch.Status())
}

func (s *Server) handleBatchHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.batch.History()
	if err != nil {
		slog.Error("Error listing batch runs", "error", err)
		writeError(w, "Could not list batch runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*BatchRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleHealth reports engine readiness. It answers 200 while any engine is
// usable, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	engines := s.service.Health(r.Context())
	status, code := "degraded", http.StatusServiceUnavailable
	for _, ready := range engines {
		if ready {
			status, code = "ok", http.StatusOK
			break
		}
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"engines": engines,
	})
}
