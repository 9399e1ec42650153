package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/dorsuconnect/verifysync/pkg/artifacts"
	"github.com/dorsuconnect/verifysync/pkg/backend"
	"github.com/dorsuconnect/verifysync/pkg/linkserver"
	"github.com/dorsuconnect/verifysync/pkg/provider/devauth"
	"github.com/dorsuconnect/verifysync/pkg/verifyflow"
)

type ServerConfig struct {
	Addr string `env:"VERIFYSYNC_ADDR" env-default:"localhost:4100"`
}

type AuthConfig struct {
	SigningKey string `env:"VERIFYSYNC_SIGNING_KEY" env-default:"devauth-local-secret"`
	SchemeBase string `env:"VERIFYSYNC_SCHEME_BASE" env-default:"dorsuconnect://verify-email"`
	HTTPSBase  string `env:"VERIFYSYNC_HTTPS_BASE" env-default:"http://localhost:4100/link/verify-email"`
}

type SMTPEnvConfig struct {
	Host     string `env:"VERIFYSYNC_SMTP_HOST" env-default:""`
	Port     int    `env:"VERIFYSYNC_SMTP_PORT" env-default:"1025"`
	TLS      bool   `env:"VERIFYSYNC_SMTP_TLS" env-default:"false"`
	Username string `env:"VERIFYSYNC_SMTP_USERNAME" env-default:""`
	Password string `env:"VERIFYSYNC_SMTP_PASSWORD" env-default:""`
	From     string `env:"VERIFYSYNC_SMTP_FROM" env-default:"no-reply@dorsuconnect.app"`
}

type Config struct {
	ServerConfig ServerConfig
	AuthConfig   AuthConfig
	SMTPConfig   SMTPEnvConfig
	BackendURL   string `env:"VERIFYSYNC_BACKEND_URL" env-default:"http://localhost:4200"`
	ArtifactsDir string `env:"VERIFYSYNC_ARTIFACTS_DIR" env-default:"./data"`
}

type signupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	FullName  string `json:"fullName,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func main() {
	config := Config{}
	cleanenv.ReadEnv(&config)

	authOpts := []devauth.Option{
		devauth.WithSigningKey([]byte(config.AuthConfig.SigningKey)),
		devauth.WithLinkBases(config.AuthConfig.SchemeBase, config.AuthConfig.HTTPSBase),
	}
	if config.SMTPConfig.Host != "" {
		mailer, err := devauth.NewSMTPMailer(devauth.SMTPConfig{
			Host:     config.SMTPConfig.Host,
			Port:     config.SMTPConfig.Port,
			TLS:      config.SMTPConfig.TLS,
			Username: config.SMTPConfig.Username,
			Password: config.SMTPConfig.Password,
			From:     config.SMTPConfig.From,
		})
		if err != nil {
			slog.Error("Failed creating SMTP mailer", "err", err)
			os.Exit(-1)
		}
		authOpts = append(authOpts, devauth.WithMailer(mailer))
	}
	authService := devauth.NewService(authOpts...)

	if err := os.MkdirAll(config.ArtifactsDir, 0o755); err != nil {
		slog.Error("Failed creating artifacts directory", "dir", config.ArtifactsDir, "err", err)
		os.Exit(-1)
	}
	store, err := artifacts.NewFileStore(config.ArtifactsDir)
	if err != nil {
		slog.Error("Failed opening artifacts store", "dir", config.ArtifactsDir, "err", err)
		os.Exit(-1)
	}

	backendClient := backend.NewClient(config.BackendURL)

	orchestrator := verifyflow.NewOrchestrator(authService, backendClient, store,
		verifyflow.WithStateListener(func(snap verifyflow.Snapshot) {
			slog.Info("Flow state changed", "flow_id", snap.FlowID, "status", snap.Status, "email", snap.Email)
		}),
	)
	orchestrator.Reattach(context.Background())

	linkHandler := linkserver.NewHandler(orchestrator.HandleDeepLink)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Mount("/link", linkHandler.Routes())

	r.Post("/signup", func(w http.ResponseWriter, req *http.Request) {
		var body signupRequest
		if err := render.DecodeJSON(req.Body, &body); err != nil {
			render.Status(req, http.StatusBadRequest)
			render.JSON(w, req, errorResponse{Error: "invalid request body"})
			return
		}
		err := orchestrator.Begin(req.Context(), verifyflow.BeginRequest{
			Email:     body.Email,
			Secret:    body.Password,
			Username:  body.Username,
			FirstName: body.FirstName,
			LastName:  body.LastName,
			FullName:  body.FullName,
		})
		if err != nil {
			render.Status(req, http.StatusConflict)
			render.JSON(w, req, errorResponse{Error: err.Error()})
			return
		}
		render.Status(req, http.StatusAccepted)
		render.JSON(w, req, orchestrator.Snapshot())
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, orchestrator.Snapshot())
	})

	r.Get("/pending-error", func(w http.ResponseWriter, req *http.Request) {
		msg, ok := orchestrator.PendingError(req.Context())
		render.JSON(w, req, map[string]any{"message": msg, "present": ok})
	})

	r.Post("/foreground", func(w http.ResponseWriter, req *http.Request) {
		orchestrator.OnForeground()
		render.JSON(w, req, orchestrator.Snapshot())
	})

	r.Post("/retry", func(w http.ResponseWriter, req *http.Request) {
		if err := orchestrator.RetryCompletion(req.Context()); err != nil {
			render.Status(req, http.StatusConflict)
			render.JSON(w, req, errorResponse{Error: err.Error()})
			return
		}
		render.JSON(w, req, orchestrator.Snapshot())
	})

	r.Post("/reset", func(w http.ResponseWriter, req *http.Request) {
		orchestrator.Reset(req.Context())
		render.JSON(w, req, orchestrator.Snapshot())
	})

	slog.Info("verifysyncd listening", "addr", config.ServerConfig.Addr)
	if err := http.ListenAndServe(config.ServerConfig.Addr, r); err != nil {
		slog.Error("Server stopped", "err", err)
		os.Exit(-1)
	}
}
