// Fakebackend is a stand-in for the flashcard server, useful for running the
// proxy locally without the real backend installed. It accepts the same
// arguments the supervisor passes and serves the content directory.
//
// Usage:
//
//	go run ./scripts/fakebackend --host 127.0.0.1 --port 8001 --open-browser false ./decks/cards
//
// Point backend.command at it in config.yaml:
//
//	backend:
//	  command: ["go", "run", "./scripts/fakebackend"]
//
// A -startup-delay makes the proxy's delivery retries visible after a restart.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/angeloszaimis/syncproxy/pkg/logger"
)

func main() {
	host := flag.String("host", "0.0.0.0", "address to bind")
	port := flag.Int("port", 8001, "port to listen on")
	// string, since the supervisor passes "--open-browser false" as two args
	_ = flag.String("open-browser", "false", "ignored")
	delay := flag.Duration("startup-delay", 0, "wait before listening")
	flag.Parse()

	log := logger.New("debug", false, "dev")

	dir := "."
	if flag.NArg() > 0 {
		dir = flag.Arg(0)
	}

	cards, err := countCards(dir)
	if err != nil {
		log.Error("failed to read content directory", slog.String("dir", dir), slog.Any("err", err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"pid":    os.Getpid(),
			"cards":  cards,
		})
	})
	mux.Handle("/", http.FileServer(http.Dir(dir)))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("from", r.RemoteAddr))
		mux.ServeHTTP(w, r)
	})

	if *delay > 0 {
		log.Info("delaying startup", slog.Duration("delay", *delay))
		time.Sleep(*delay)
	}

	addr := net.JoinHostPort(*host, strconv.Itoa(*port))
	log.Info("starting backend",
		slog.String("addr", addr),
		slog.String("dir", dir),
		slog.Int("cards", cards))

	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func countCards(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(dir); err != nil {
		return 0, err
	}
	return len(matches), nil
}
