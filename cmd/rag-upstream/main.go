// rag-upstream is a development stand-in for the production answer backend.
// It speaks the same /healthz, /ask, and /ask-stream contract the gateway
// proxies to, backed by the OpenAI chat API instead of a retrieval index.
package main

import (
	"fmt"
	"log"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"kenbright-chat-gateway/internal/config"
	"kenbright-chat-gateway/internal/upstream"
)

func main() {
	cfg := config.Load()
	if cfg.OpenAIAPIKey == "" {
		log.Println("warning: OPENAI_API_KEY is not set; answers will fail until provided")
	}
	spec, err := upstream.LoadPromptSpec(cfg.PromptFile)
	if err != nil {
		log.Printf("warning: prompt spec %s not loaded, using defaults: %v", cfg.PromptFile, err)
	}

	answerer := upstream.NewOpenAIAnswerer(openai.NewClient(cfg.OpenAIAPIKey), cfg.Model, spec)
	s := upstream.NewServer(answerer, cfg.BackendAPIKey)

	addr := ":" + cfg.UpstreamPort
	fmt.Printf("rag upstream listening on %s\n", addr)
	log.Fatal(http.ListenAndServe(addr, s.Router()))
}
