package console

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
	"github.com/grafostech/fleet-console/internal/fiscal"
	"github.com/grafostech/fleet-console/internal/history"
	"github.com/grafostech/fleet-console/internal/odometer"
)

// handleGetReading returns the current odometer reading
func (s *Server) handleGetReading(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentSession(r).Odometer.Reading())
}

// handleCaptureImage stores a dashboard photo and starts its analysis
func (s *Server) handleCaptureImage(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		writeError(w, err)
		return
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, apperrors.NewValidationError("file", "No file was selected. Please choose a file to upload."))
		return
	}
	header := headers[0]
	data, contentType, err := readUpload(header)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, err)
		return
	}

	reading, err := currentSession(r).Odometer.CaptureImage(r.Context(), odometer.Image{
		Filename: header.Filename,
		MIMEType: contentType,
		Data:     data,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, reading)
}

// manualValue accepts a typed string ("12.500 km") or a JSON number
type manualValue struct {
	Value json.RawMessage `json:"value"`
}

func (m manualValue) mileage() (int, error) {
	var text string
	if err := json.Unmarshal(m.Value, &text); err == nil {
		return odometer.ParseMileage(text)
	}
	var n int
	if err := json.Unmarshal(m.Value, &n); err != nil {
		return 0, apperrors.NewValidationError("value", "mileage must be a whole number")
	}
	if n < 0 {
		return 0, apperrors.NewValidationError("value", "mileage cannot be negative")
	}
	return n, nil
}

// handleEditManual replaces the manually entered mileage
func (s *Server) handleEditManual(w http.ResponseWriter, r *http.Request) {
	var req manualValue
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	value, err := req.mileage()
	if err != nil {
		writeError(w, err)
		return
	}

	reading, err := currentSession(r).Odometer.EditManualValue(value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handleSelectVehicle picks the vehicle the reading belongs to
func (s *Server) handleSelectVehicle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VehicleID string `json:"vehicle_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	vehicle, err := s.directory.GetVehicle(req.VehicleID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			err = apperrors.NewValidationError("vehicle_id", "Select an active vehicle.")
		}
		writeError(w, err)
		return
	}

	reading, err := currentSession(r).Odometer.SelectVehicle(vehicle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

type savedReading struct {
	Record  history.Record   `json:"record"`
	Reading odometer.Reading `json:"reading"`
}

// handleAcceptAI saves the reading with the AI value
func (s *Server) handleAcceptAI(w http.ResponseWriter, r *http.Request) {
	reconciler := currentSession(r).Odometer
	record, err := reconciler.AcceptAIValue()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, savedReading{Record: record, Reading: reconciler.Reading()})
}

// handleConfirmManual saves the reading with the matching manual value
func (s *Server) handleConfirmManual(w http.ResponseWriter, r *http.Request) {
	reconciler := currentSession(r).Odometer
	record, err := reconciler.ConfirmManualValue()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, savedReading{Record: record, Reading: reconciler.Reading()})
}

// handleReprocess runs the analysis again on the current photo
func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	reading, err := currentSession(r).Odometer.Reprocess(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, reading)
}

// handleReset returns the reading to the placeholder
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentSession(r).Odometer.Reset())
}

// handleHistory returns the saved readings, newest first
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records := currentSession(r).History.List()
	writeJSON(w, http.StatusOK, history.Entries(records, s.directory))
}

// handleSubmitFiscalNotes starts validating a batch of photos
func (s *Server) handleSubmitFiscalNotes(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		writeError(w, err)
		return
	}

	headers := r.MultipartForm.File["files"]
	files := make([]fiscal.File, 0, len(headers))
	for _, header := range headers {
		data, contentType, err := readUpload(header)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			data = nil
		}
		files = append(files, fiscal.File{Name: header.Filename, MIMEType: contentType, Data: data})
	}

	batch, err := currentSession(r).Fiscal.SubmitBatch(r.Context(), files, r.FormValue("invoice_number"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"items": batch.Items})
}

// handleListFiscalNotes returns the items in one filter bucket
func (s *Server) handleListFiscalNotes(w http.ResponseWriter, r *http.Request) {
	filter, err := fiscal.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, err)
		return
	}

	items := currentSession(r).Fiscal.Items()
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      items.List(filter),
		"counts":     items.Counts(),
		"processing": items.Processing(),
	})
}

// handleRemoveFiscalNote removes an item, even while it is being analyzed
func (s *Server) handleRemoveFiscalNote(w http.ResponseWriter, r *http.Request) {
	if err := currentSession(r).Fiscal.RemoveItem(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetImage serves an image uploaded during the session
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	data, err := currentSession(r).Image(r.PathValue("ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
