package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"fleet-report/charting"
	"fleet-report/report"
)

const maxImageBytes = 20 << 20

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// ExportCharts renders the charts of an event's latest report and zips them
// together with the report document
func (h *Handler) ExportCharts(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["eventId"]

	rec, images, err := h.service.StoredCharts(r.Context(), eventID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	buf := new(bytes.Buffer)
	if err := charting.WriteZip(buf, rec.Document, images); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build archive: %v", err))
		return
	}

	filename := fmt.Sprintf("charts_%s_%s.zip", report.DirName(eventID), time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// UploadImage stores a photo for an event and records it in the audit store
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	eventID := strings.TrimSpace(mux.Vars(r)["eventId"])
	if eventID == "" {
		respondError(w, http.StatusBadRequest, "eventId is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !imageExtensions[ext] {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported image type %q", ext))
		return
	}

	base := report.DirName(strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename)))
	filename := fmt.Sprintf("%s_%s%s", uuid.New().String()[:8], base, ext)

	if err := os.MkdirAll(h.cfg.ImagesPath, 0755); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create image directory")
		return
	}
	out, err := os.Create(filepath.Join(h.cfg.ImagesPath, filename))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store image")
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		respondError(w, http.StatusInternalServerError, "failed to store image")
		return
	}
	if err := out.Close(); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store image")
		return
	}

	systemID := strings.TrimSpace(r.FormValue("system_id"))
	if err := h.repo.AddImage(r.Context(), eventID, systemID, filename, time.Time{}); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"status":   "success",
		"event_id": eventID,
		"filename": filename,
	})
}
