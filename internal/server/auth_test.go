package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"paperdesk/internal/store"
)

func setupAuthStore(t *testing.T) (*store.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	cleanup := func() { db.Close() }
	return &store.Store{DB: db}, mock, cleanup
}

func jsonRequest(method, target string, body interface{}) *http.Request {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestSignup(t *testing.T) {
	st, mock, cleanup := setupAuthStore(t)
	defer cleanup()
	h := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (email, password_hash) VALUES ($1,$2)`)).
		WithArgs("a@b.c", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/auth/signup", AuthSignupRequest{Email: "a@b.c", Password: "secret"}), rec)

	if err := h.signup(ctx); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	st, mock, cleanup := setupAuthStore(t)
	defer cleanup()
	h := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("a@b.c", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/auth/signup", AuthSignupRequest{Email: "a@b.c", Password: "secret"}), rec)

	err := h.signup(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestSignupMissingFields(t *testing.T) {
	st, _, cleanup := setupAuthStore(t)
	defer cleanup()
	h := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/auth/signup", AuthSignupRequest{Email: "a@b.c"}), rec)

	err := h.signup(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	st, mock, cleanup := setupAuthStore(t)
	defer cleanup()
	secret := []byte("test-secret")
	h := &AuthHandler{Store: st, Secret: secret}

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	rows := sqlmock.NewRows([]string{"id", "password_hash"}).AddRow("user-1", string(hash))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, password_hash FROM users WHERE email=$1`)).
		WithArgs("a@b.c").
		WillReturnRows(rows)

	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/auth/login", AuthLoginRequest{Email: "a@b.c", Password: "secret"}), rec)

	if err := h.login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	parsed, err := jwt.Parse(body.Token, func(tok *jwt.Token) (interface{}, error) { return secret, nil })
	if err != nil || !parsed.Valid {
		t.Fatalf("token does not verify: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["sub"] != "user-1" {
		t.Fatalf("unexpected subject %v", claims["sub"])
	}

	foundCookie := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth" && c.Value == body.Token && c.HttpOnly {
			foundCookie = true
		}
	}
	if !foundCookie {
		t.Fatal("expected HttpOnly auth cookie carrying the token")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	st, mock, cleanup := setupAuthStore(t)
	defer cleanup()
	h := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	hash, _ := bcrypt.GenerateFromPassword([]byte("right"), bcrypt.MinCost)
	rows := sqlmock.NewRows([]string{"id", "password_hash"}).AddRow("user-1", string(hash))
	mock.ExpectQuery(`SELECT id, password_hash FROM users`).
		WithArgs("a@b.c").
		WillReturnRows(rows)

	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/auth/login", AuthLoginRequest{Email: "a@b.c", Password: "wrong"}), rec)

	err := h.login(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	st, mock, cleanup := setupAuthStore(t)
	defer cleanup()
	h := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	mock.ExpectQuery(`SELECT id, password_hash FROM users`).
		WithArgs("nobody@b.c").
		WillReturnError(sql.ErrNoRows)

	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/auth/login", AuthLoginRequest{Email: "nobody@b.c", Password: "x"}), rec)

	err := h.login(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	h := &AuthHandler{}
	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil), rec)

	if err := h.logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth" && c.Value == "" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("expected auth cookie to be cleared")
	}
}
