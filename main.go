package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"roomrelay-server/broker"
	"roomrelay-server/domain"
	"roomrelay-server/tcp"
	ws "roomrelay-server/websocket"
)

type config struct {
	WSAddr  string `env:"WS_ADDR" envDefault:":8080"`
	TCPAddr string `env:"TCP_ADDR" envDefault:":3131"`

	// The two transports keep distinct heartbeat parameters.
	WSPingInterval   time.Duration `env:"WS_PING_INTERVAL" envDefault:"5s"`
	WSClientTimeout  time.Duration `env:"WS_CLIENT_TIMEOUT" envDefault:"10s"`
	TCPPingInterval  time.Duration `env:"TCP_PING_INTERVAL" envDefault:"1s"`
	TCPClientTimeout time.Duration `env:"TCP_CLIENT_TIMEOUT" envDefault:"10s"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	setupLogger()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := broker.New()
	go relay.Run(ctx)

	ln, err := net.Listen("tcp", cfg.TCPAddr)
	if err != nil {
		slog.Error("tcp listen error", "addr", cfg.TCPAddr, "error", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("tcp transport listening", "addr", cfg.TCPAddr)
		if err := tcp.Serve(ctx, ln, relay, domain.Heartbeat{
			Interval: cfg.TCPPingInterval,
			Timeout:  cfg.TCPClientTimeout,
		}); err != nil {
			slog.Error("tcp transport error", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(relay, domain.Heartbeat{
		Interval: cfg.WSPingInterval,
		Timeout:  cfg.WSClientTimeout,
	}))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/stats", statsHandler(relay))

	server := &http.Server{
		Addr:    cfg.WSAddr,
		Handler: mux,
	}

	go func() {
		slog.Info("ws transport listening", "addr", cfg.WSAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func wsHandler(relay *broker.Broker, hb domain.Heartbeat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}
		ws.NewSession(conn, relay, hb).Run()
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statsHandler(relay *broker.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, sessions := relay.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"rooms": rooms, "sessions": sessions})
	}
}
