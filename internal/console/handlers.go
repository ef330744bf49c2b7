package console

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/grafostech/fleet-console/internal/directory"
	apperrors "github.com/grafostech/fleet-console/internal/errors"
)

// maxUploadSize bounds a multipart request (high-resolution phone photos)
const maxUploadSize = int64(50 << 20) // 50MB

const rememberMaxAge = 365 * 24 * time.Hour

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps err onto a status code and a message safe to show a user
func writeError(w http.ResponseWriter, err error) {
	var ve *apperrors.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Message})
	case apperrors.Is(err, apperrors.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: unauthorizedMessage(err)})
	case apperrors.Is(err, apperrors.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: apperrors.Message(err)})
	case apperrors.Is(err, apperrors.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: strings.TrimPrefix(err.Error(), apperrors.ErrConflict.Error()+": ")})
	case apperrors.Is(err, apperrors.ErrConfig):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: apperrors.Message(err)})
	default:
		slog.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
	}
}

func unauthorizedMessage(err error) string {
	switch {
	case errors.Is(err, directory.ErrUnknownEmail):
		return "E-mail not found."
	case errors.Is(err, directory.ErrInactiveUser):
		return "This user is deactivated. Contact the administrator."
	case errors.Is(err, directory.ErrWrongPassword):
		return "Incorrect password."
	default:
		return "Sign in to continue."
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.NewValidationError("body", "Invalid request body")
	}
	return nil
}

// parseUpload parses a multipart request, turning size errors into a
// user-facing validation error.
func parseUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.NewValidationError("file", "File is too large. Maximum size is 50MB. Please compress or resize your image.")
		}
		return apperrors.NewValidationError("file", "Error parsing form")
	}
	return nil
}

// readUpload reads one uploaded file and determines its content type
func readUpload(header *multipart.FileHeader) ([]byte, string, error) {
	f, err := header.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	return data, contentTypeOf(header), nil
}

func contentTypeOf(header *multipart.FileHeader) string {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".webp":
			contentType = "image/webp"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		default:
			contentType = "application/octet-stream"
		}
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// handleLogin authenticates a user and sets the session cookie
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Remember bool   `json:"remember"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sess, err := s.sessions.Login(req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	if req.Remember {
		http.SetCookie(w, &http.Cookie{
			Name:     rememberCookie,
			Value:    sess.User.Email,
			Path:     "/",
			MaxAge:   int(rememberMaxAge.Seconds()),
			SameSite: http.SameSiteLaxMode,
		})
	} else {
		http.SetCookie(w, &http.Cookie{Name: rememberCookie, Path: "/", MaxAge: -1})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": sess.Token,
		"user":  sess.User,
	})
}

// handleLogout ends the current session, if any
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		s.sessions.Logout(token)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

// handleSession returns the logged-in user
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       sess.User,
		"created_at": sess.CreatedAt,
	})
}

func parseStatus(v string) (directory.Status, error) {
	switch st := directory.Status(v); st {
	case "", directory.StatusActive, directory.StatusInactive:
		return st, nil
	default:
		return "", apperrors.NewValidationError("status", "status must be one of: active inactive")
	}
}

// handleListVehicles returns the vehicles matching the query filters
func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	status, err := parseStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	vehicles, err := s.directory.ListVehicles(directory.VehicleFilter{
		Query:  r.URL.Query().Get("q"),
		Status: status,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicles)
}

// handleCreateVehicle adds a vehicle
func (s *Server) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var in directory.VehicleInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	vehicle, err := s.directory.AddVehicle(in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, vehicle)
}

// handleUpdateVehicle replaces a vehicle's editable fields
func (s *Server) handleUpdateVehicle(w http.ResponseWriter, r *http.Request) {
	var in directory.VehicleInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	vehicle, err := s.directory.UpdateVehicle(r.PathValue("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}

// handleDeleteVehicle deletes a vehicle
func (s *Server) handleDeleteVehicle(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.DeleteVehicle(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListUsers returns the users matching the query filters
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := parseStatus(q.Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	users, err := s.directory.ListUsers(directory.UserFilter{
		Name:   q.Get("name"),
		Email:  q.Get("email"),
		Status: status,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handleCreateUser adds a user
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in directory.UserInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	user, err := s.directory.AddUser(in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// handleUpdateUser replaces a user's editable fields
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var in directory.UserInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	user, err := s.directory.UpdateUser(r.PathValue("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser deletes a user. Users cannot delete themselves.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == currentSession(r).User.ID {
		writeJSON(w, http.StatusConflict, errorBody{Error: "You cannot delete your own user."})
		return
	}
	if err := s.directory.DeleteUser(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
