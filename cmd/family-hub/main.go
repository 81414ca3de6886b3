package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/tcriess/family-hub/auth"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/dashboard"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/storage"
	"github.com/tcriess/family-hub/ws"
)

var (
	configPath  = pflag.StringP("config", "c", "", "path to config file or directory")
	requireAuth = pflag.Bool("require-auth", false, "reject realtime clients without a valid access token")
	sslCert     = pflag.String("ssl-cert", "", "SSL cert for websocket (optional)")
	sslKey      = pflag.String("ssl-key", "", "SSL key for websocket (optional)")
)

func main() {
	log.SetFlags(0)

	// a missing .env is fine
	_ = godotenv.Load()

	flagSet := config.GetFlagSet()
	flagSet.String("addr", "", "service address (including port)")
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))

	gw, err := gateway.NewGateway(cfg)
	if err != nil {
		panic(err)
	}
	defer gw.Close()

	store, err := storage.NewLocal(cfg.StorageConfig)
	if err != nil {
		panic(err)
	}

	// the server only validates access tokens, sessions live in the clients
	authService := auth.NewService(gw, cfg.AuthConfig, auth.NewSession(), nil)

	recorder := dashboard.NewRecorder(gw, cfg.StatsConfig)
	err = recorder.Start()
	if err != nil {
		panic(err)
	}
	defer recorder.Stop()

	hub := ws.NewHub(gw, authService, *requireAuth)
	go hub.Run()
	defer hub.Close()

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: setupRoutes(hub, store),
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		globals.AppLogger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := server.Shutdown(ctx)
		if err != nil {
			globals.AppLogger.Error("could not shut down server", "error", err)
		}
	}()

	globals.AppLogger.Info("listening", "addr", cfg.Addr)
	if *sslCert != "" && *sslKey != "" {
		err = server.ListenAndServeTLS(*sslCert, *sslKey)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		globals.AppLogger.Error("stopped listening", "error", err)
	}
}

func setupRoutes(hub *ws.Hub, store *storage.Local) http.Handler {
	router := mux.NewRouter()
	router.Handle("/realtime", hub).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	// public, see storage.Local
	router.PathPrefix("/storage/").Handler(
		http.StripPrefix("/storage/", http.FileServer(http.Dir(store.Root()))),
	).Methods(http.MethodGet)
	return router
}
