package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vitrina-retail/api/internal/database"
	"github.com/vitrina-retail/api/internal/handler"
)

// --- Mock store ---

type mockUserStore struct {
	users map[uuid.UUID]database.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[uuid.UUID]database.User)}
}

func (m *mockUserStore) ListUsers(_ context.Context, arg database.ListUsersParams) ([]database.User, error) {
	var result []database.User
	for _, u := range m.users {
		if arg.Role == "" || u.Role == arg.Role {
			result = append(result, u)
		}
	}
	return result, nil
}

func (m *mockUserStore) CreateUser(_ context.Context, arg database.CreateUserParams) (database.User, error) {
	// Simulates the PostgreSQL unique constraint on email.
	for _, existing := range m.users {
		if existing.Email == arg.Email {
			return database.User{}, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	u := database.User{
		ID:             uuid.New(),
		Email:          arg.Email,
		HashedPassword: arg.HashedPassword,
		FullName:       arg.FullName,
		Role:           arg.Role,
		Position:       arg.Position,
	}
	m.users[u.ID] = u
	return u, nil
}

func newUserRouter(store handler.UserStore) http.Handler {
	r := chi.NewRouter()
	r.Route("/users", handler.NewUserHandler(store).RegisterRoutes)
	return r
}

// --- Tests ---

func TestCreateUserSuccess(t *testing.T) {
	store := newMockUserStore()
	router := newUserRouter(store)

	rr := postJSON(t, router, "/users", map[string]string{
		"email":     "courier@vitrina.test",
		"password":  "secret123",
		"full_name": "Олег Сидоров",
		"role":      "COURIER",
		"position":  "Курьер",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d, body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	if resp["role"] != "COURIER" {
		t.Errorf("role: got %v", resp["role"])
	}
	if resp["position"] != "Курьер" {
		t.Errorf("position: got %v", resp["position"])
	}
	if _, ok := resp["hashed_password"]; ok {
		t.Error("hashed password must not appear in responses")
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store := newMockUserStore()
	router := newUserRouter(store)

	body := map[string]string{
		"email":     "dup@vitrina.test",
		"password":  "secret123",
		"full_name": "Первый",
		"role":      "PICKER",
	}
	if rr := postJSON(t, router, "/users", body); rr.Code != http.StatusCreated {
		t.Fatalf("first create: got %d", rr.Code)
	}
	if rr := postJSON(t, router, "/users", body); rr.Code != http.StatusConflict {
		t.Errorf("duplicate create: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestCreateUserInvalidRole(t *testing.T) {
	router := newUserRouter(newMockUserStore())

	rr := postJSON(t, router, "/users", map[string]string{
		"email":     "x@vitrina.test",
		"password":  "secret123",
		"full_name": "Некто",
		"role":      "MANAGER",
	})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestListUsersRoleFilter(t *testing.T) {
	store := newMockUserStore()
	store.users[uuid.New()] = database.User{ID: uuid.New(), Email: "p@v.t", Role: "PICKER", FullName: "Сборщик Один"}
	store.users[uuid.New()] = database.User{ID: uuid.New(), Email: "c@v.t", Role: "COURIER", FullName: "Курьер Один"}
	router := newUserRouter(store)

	req := httptest.NewRequest("GET", "/users?role=PICKER", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}

	var users []map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&users); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("got %d users, want 1", len(users))
	}
	if users[0]["role"] != "PICKER" {
		t.Errorf("role: got %v", users[0]["role"])
	}
}

func TestListUsersInvalidRoleFilter(t *testing.T) {
	router := newUserRouter(newMockUserStore())

	req := httptest.NewRequest("GET", "/users?role=OWNER", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
