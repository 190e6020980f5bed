package main

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	db, err := NewDatabase(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	defer db.Close()

	if err := db.CreateTables(); err != nil {
		log.Fatal("Failed to create tables: ", err)
	}

	server := NewServer(cfg, db)

	mux := server.RegisterRoutes()
	handler := corsMiddleware(mux)

	log.Infof("Game table server starting on %s", cfg.ListenAddr)
	log.Infof("WebSocket endpoint: ws://localhost%s/ws", cfg.ListenAddr)
	log.Infof("API endpoints: http://localhost%s/api/*", cfg.ListenAddr)

	if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		log.Fatal("Server failed: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
