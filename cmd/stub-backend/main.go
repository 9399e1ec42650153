// Command stub-backend is a development stand-in for the DorsuConnect
// account backend. It verifies the bearer ID token the device presents,
// upserts the user record in memory, and hands back a session JWT, which is
// all the verification flow needs from the real thing.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Addr string `env:"STUB_BACKEND_ADDR" env-default:"localhost:4200"`

	// Must match the dev provider's signing key so bearer tokens verify.
	IDTokenSecret  string        `env:"STUB_BACKEND_ID_TOKEN_SECRET" env-default:"devauth-local-secret"`
	SessionSecret  string        `env:"STUB_BACKEND_SESSION_SECRET" env-default:"stub-session-secret"`
	SessionTTL     time.Duration `env:"STUB_BACKEND_SESSION_TTL" env-default:"720h"`
	RejectRegister bool          `env:"STUB_BACKEND_REJECT_REGISTER" env-default:"false"`
}

type registerRequest struct {
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type userRecord struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type registerResponse struct {
	Token string     `json:"token"`
	User  userRecord `json:"user"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type registry struct {
	mu    sync.Mutex
	users map[string]userRecord // by provider uid
}

func main() {
	config := Config{}
	cleanenv.ReadEnv(&config)

	tokenAuth := jwtauth.New("HS256", []byte(config.IDTokenSecret), nil)
	reg := &registry{users: make(map[string]userRecord)}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(tokenAuth))
		r.Use(jwtauth.Authenticator(tokenAuth))

		r.Post("/api/auth/register-firebase", func(w http.ResponseWriter, req *http.Request) {
			if config.RejectRegister {
				render.Status(req, http.StatusServiceUnavailable)
				render.JSON(w, req, errorResponse{Error: "registration temporarily disabled"})
				return
			}

			_, claims, err := jwtauth.FromContext(req.Context())
			if err != nil {
				render.Status(req, http.StatusUnauthorized)
				render.JSON(w, req, errorResponse{Error: "invalid token"})
				return
			}
			uid, _ := claims["sub"].(string)
			verified, _ := claims["email_verified"].(bool)
			if uid == "" || !verified {
				render.Status(req, http.StatusForbidden)
				render.JSON(w, req, errorResponse{Error: "email not verified"})
				return
			}

			var body registerRequest
			if err := render.DecodeJSON(req.Body, &body); err != nil {
				render.Status(req, http.StatusBadRequest)
				render.JSON(w, req, errorResponse{Error: "invalid request body"})
				return
			}
			if body.Username == "" || body.Email == "" {
				render.Status(req, http.StatusBadRequest)
				render.JSON(w, req, errorResponse{Error: "username and email are required"})
				return
			}

			reg.mu.Lock()
			user, exists := reg.users[uid]
			if !exists {
				user = userRecord{ID: uuid.New().String(), Role: "student"}
			}
			user.Username = body.Username
			user.Email = body.Email
			user.FirstName = body.FirstName
			user.LastName = body.LastName
			reg.users[uid] = user
			reg.mu.Unlock()

			session, err := issueSession([]byte(config.SessionSecret), user, config.SessionTTL)
			if err != nil {
				slog.Error("Failed issuing session token", "err", err)
				render.Status(req, http.StatusInternalServerError)
				render.JSON(w, req, errorResponse{Error: "failed to issue session"})
				return
			}

			slog.Info("User registered", "uid", uid, "username", user.Username, "upsert", exists)
			render.JSON(w, req, registerResponse{Token: session, User: user})
		})
	})

	slog.Info("stub-backend listening", "addr", config.Addr)
	if err := http.ListenAndServe(config.Addr, r); err != nil {
		slog.Error("Server stopped", "err", err)
		os.Exit(-1)
	}
}

func issueSession(secret []byte, user userRecord, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"role":     user.Role,
		"iat":      time.Now().Unix(),
		"exp":      time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
