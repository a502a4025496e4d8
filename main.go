package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfg "github.com/example/idhub/internal/config"
	"github.com/gorilla/mux"
)

type App struct {
	DB         Store
	SessionTTL time.Duration
	TokenTTL   time.Duration
	limiter    *loginLimiter
	sso        *ssoProvider
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

// seedAdmin guarantees the configured admin account exists. A conflict means
// another replica seeded it first.
func seedAdmin(ctx context.Context, db Store, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	if _, err := db.GetUserByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, errNotFound) {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	if _, err := db.CreateUser(ctx, email, hash, RoleAdmin); err != nil && !errors.Is(err, errConflict) {
		return err
	}
	return nil
}

// routes builds the full router so tests can drive the HTTP surface directly.
func (a *App) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(a.Logging)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p, ok := a.DB.(interface{ ping() bool }); ok && !p.ping() {
			w.WriteHeader(503)
			w.Write([]byte(`{"ready":false}`))
			return
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"ready":true}`))
	}).Methods("GET")

	r.Handle("/token", a.LoginRateLimit(http.HandlerFunc(a.HandleLogin))).Methods("POST")

	if a.sso != nil {
		r.HandleFunc("/login", a.HandleSSOLogin).Methods("GET")
		r.HandleFunc("/auth/callback", a.HandleSSOCallback).Methods("GET")
	}

	// everything below requires a bearer token
	api := r.NewRoute().Subrouter()
	api.Use(a.BearerAuth)
	api.HandleFunc("/users/me", a.HandleMe).Methods("GET")
	api.HandleFunc("/users", a.HandleListUsers).Methods("GET")
	api.HandleFunc("/users", a.HandleCreateUser).Methods("POST")
	api.HandleFunc("/users/{id:[0-9]+}", a.HandleDeleteUser).Methods("DELETE")
	api.HandleFunc("/users/{id:[0-9]+}/type", a.HandleChangeRole).Methods("PUT")
	api.HandleFunc("/users/{id:[0-9]+}/password", a.HandleChangePassword).Methods("PUT")
	api.HandleFunc("/tokens", a.HandleCreateToken).Methods("POST")
	api.HandleFunc("/tokens", a.HandleListTokens).Methods("GET")
	api.HandleFunc("/tokens/{id:[0-9]+}", a.HandleDeleteToken).Methods("DELETE")

	return r
}

func main() {
	c, err := cfg.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	jwtSecret = []byte(c.JwtSecret)

	var db Store
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			log.Fatalf("sqlite init: %v", err)
		}
		db = s
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			log.Fatalf("postgres config error: %v", err)
		}
		if err := ApplyMigrations("./migrations", dsn); err != nil {
			log.Fatalf("migrations: %v", err)
		}
		p, err := NewPostgresDB(dsn)
		if err != nil {
			log.Fatalf("postgres init: %v", err)
		}
		db = p
		log.Println("Connected to PostgreSQL database")
	case "memory":
		log.Println("Using in-memory database (not recommended for production)")
		db = NewMemoryDB()
	default:
		log.Fatalf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	ctx := context.Background()
	if err := seedAdmin(ctx, db, c.AdminEmail, c.AdminPassword); err != nil {
		log.Fatalf("admin seed: %v", err)
	}

	app := &App{
		DB:         db,
		SessionTTL: c.SessionTTL,
		TokenTTL:   c.APITokenTTL,
		limiter:    newLoginLimiter(c.LoginRatePerMinute),
	}

	if c.OIDCIssuerURL != "" {
		sso, err := newSSOProvider(ctx, c)
		if err != nil {
			log.Fatalf("oidc init: %v", err)
		}
		app.sso = sso
	}

	srv := &http.Server{Handler: app.routes(), Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		fmt.Println("Starting server on", c.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closer, ok := app.DB.(interface{ close() error }); ok {
		_ = closer.close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown failed:%+v", err)
	}
	fmt.Println("Server exited properly")
}
