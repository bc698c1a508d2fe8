package main

import (
	"fmt"
	"log"
	"net/http"

	"kenbright-chat-gateway/internal/config"
	"kenbright-chat-gateway/internal/server"
)

func main() {
	cfg := config.Load()
	s, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to create gateway: %v", err)
	}
	addr := ":" + cfg.Port
	fmt.Printf("chat gateway listening on %s (backend %s)\n", addr, cfg.BackendBase)
	log.Fatal(http.ListenAndServe(addr, s.Router()))
}
