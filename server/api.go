package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultMatchLimit = 20
	maxMatchLimit     = 100
	maxBodyBytes      = 4096
)

// API serves the account, history and room endpoints under /api.
type API struct {
	hub       *Hub
	publicURL string
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

type authResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	User    *User  `json:"user,omitempty"`
	Token   string `json:"token,omitempty"`
}

// Register adds the API routes to mux
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/register", a.handleRegister)
	mux.HandleFunc("POST /api/login", a.handleLogin)
	mux.HandleFunc("POST /api/verify", a.handleVerify)
	mux.HandleFunc("POST /api/logout", a.handleLogout)
	mux.HandleFunc("GET /api/matches", a.handleMatches)
	mux.HandleFunc("GET /api/users/{id}/record", a.handleUserRecord)
	mux.HandleFunc("GET /api/rooms/{roomId}", a.handleRoom)
	mux.HandleFunc("GET /api/rooms/{roomId}/invite.png", a.handleInvite)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// authStatus maps auth errors to HTTP status codes
func authStatus(err error) int {
	switch {
	case errors.Is(err, ErrMissingCredentials),
		errors.Is(err, ErrInvalidUsername),
		errors.Is(err, ErrInvalidPassword):
		return http.StatusBadRequest
	case errors.Is(err, ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrLoginRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	status := authStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("api: %v", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// readCredentials accepts a JSON body or a form post
func readCredentials(w http.ResponseWriter, r *http.Request) (credentials, error) {
	var c credentials
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			return c, err
		}
		return c, nil
	}
	if err := r.ParseForm(); err != nil {
		return c, err
	}
	c.Username = r.PostFormValue("username")
	c.Password = r.PostFormValue("password")
	c.Token = r.PostFormValue("token")
	return c, nil
}

// bearerToken returns the Authorization bearer token, falling back to body
func bearerToken(r *http.Request, body string) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return body
}

func (a *API) requireAuth(w http.ResponseWriter) bool {
	if a.hub.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "accounts are disabled")
		return false
	}
	return true
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.requireAuth(w) {
		return
	}
	c, err := readCredentials(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := a.hub.auth.Register(c.Username, c.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	log.Printf("registered user %s (%s)", u.Username, u.ID)
	writeJSON(w, http.StatusCreated, authResponse{Success: true, Message: "User registered successfully", User: &u})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.requireAuth(w) {
		return
	}
	c, err := readCredentials(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, token, err := a.hub.auth.Login(c.Username, c.Password, extractIP(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Success: true, Message: "Login successful", User: &u, Token: token})
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	if !a.requireAuth(w) {
		return
	}
	c, err := readCredentials(w, r)
	if err != nil && r.Header.Get("Authorization") == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := a.hub.auth.Verify(bearerToken(r, c.Token))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Success: true, User: &u})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !a.requireAuth(w) {
		return
	}
	c, _ := readCredentials(w, r)
	if err := a.hub.auth.Logout(bearerToken(r, c.Token)); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Success: true, Message: "Logged out"})
}

func (a *API) handleMatches(w http.ResponseWriter, r *http.Request) {
	if a.hub.db == nil {
		writeJSON(w, http.StatusOK, []MatchResult{})
		return
	}
	limit := defaultMatchLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxMatchLimit)
	}
	matches, err := a.hub.db.RecentMatches(limit)
	if err != nil {
		log.Printf("api: recent matches: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (a *API) handleUserRecord(w http.ResponseWriter, r *http.Request) {
	if a.hub.db == nil {
		writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	id := r.PathValue("id")
	rec, err := a.hub.db.GetUserRecord(id)
	if err != nil {
		log.Printf("api: user record: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	// registered accounts play under their numeric id
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		if u, err := a.hub.db.GetUserByID(n); err == nil && u != nil {
			rec.Username = u.Username
		}
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	roster := a.hub.registry.Roster(roomID)
	if roster == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		RoomID string `json:"roomId"`
		Roster any    `json:"roster"`
	}{roomID, roster})
}
