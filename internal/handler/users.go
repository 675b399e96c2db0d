package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vitrina-retail/api/internal/database"
	"github.com/vitrina-retail/api/internal/stage"
	"golang.org/x/crypto/bcrypt"
)

// UserStore defines the database methods needed by user handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type UserStore interface {
	ListUsers(ctx context.Context, arg database.ListUsersParams) ([]database.User, error)
	CreateUser(ctx context.Context, arg database.CreateUserParams) (database.User, error)
}

// UserHandler handles the staff directory endpoints (admin only).
type UserHandler struct {
	store UserStore
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(store UserStore) *UserHandler {
	return &UserHandler{store: store}
}

// RegisterRoutes registers user endpoints on the given Chi router.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
}

// --- Request / Response types ---

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Position string `json:"position"`
}

// --- Handlers ---

// List returns the staff directory, optionally filtered by role. Admins use
// it to pick assignees for the reassignment endpoint.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role != "" && !stage.IsValidRole(role) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid role"})
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 200 {
		limit = 200
	}

	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	users, err := h.store.ListUsers(r.Context(), database.ListUsersParams{
		Role:   role,
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		log.Printf("ERROR: list users: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]userResponse, len(users))
	for i, u := range users {
		resp[i] = toUserResponse(u)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Create adds a new account.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Email == "" || req.Password == "" || req.FullName == "" || req.Role == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email, password, full_name, and role are required"})
		return
	}

	if !strings.Contains(req.Email, "@") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid email format"})
		return
	}

	if !stage.IsValidRole(req.Role) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid role"})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("ERROR: create user: hash password: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	user, err := h.store.CreateUser(r.Context(), database.CreateUserParams{
		Email:          req.Email,
		HashedPassword: string(hashed),
		FullName:       req.FullName,
		Role:           req.Role,
		Position:       req.Position,
	})
	if err != nil {
		if isUniqueViolation(err) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "email already exists"})
			return
		}
		log.Printf("ERROR: create user: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// --- Helpers ---

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
