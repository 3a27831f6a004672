// Command mockdify runs a minimal stand-in for the Dify chat-messages API,
// useful for local development of the proxy without a real Dify app:
//
//	go run ./cmd/mockdify -port 9090
//	DIFY_API_BASE=http://localhost:9090 go run ./cmd
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openbridge/difyproxy/internal/dify"
)

const chunkDelay = 20 * time.Millisecond

func main() {
	port := flag.Int("port", 9090, "listen port")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/chat-messages", handleChatMessages)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock Dify listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("mock Dify failed: %v", err)
	}
}

func handleChatMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(dify.APIError{
			Status:  http.StatusUnauthorized,
			Code:    "unauthorized",
			Message: "Access token is invalid",
		})
		return
	}

	var req dify.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	answer := "You said: " + req.Query
	messageID := uuid.New().String()
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	created := time.Now().Unix()

	if req.ResponseMode == dify.ResponseModeStreaming {
		streamAnswer(w, answer, messageID, conversationID, created)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(dify.BlockingResponse{
		MessageID:      messageID,
		ConversationID: conversationID,
		Mode:           "chat",
		Answer:         answer,
		Metadata:       usageFor(req.Query, answer),
		CreatedAt:      created,
	})
}

// streamAnswer emits the answer word by word as Dify SSE events, then a
// message_end event carrying usage.
func streamAnswer(w http.ResponseWriter, answer, messageID, conversationID string, created int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	words := strings.SplitAfter(answer, " ")
	for _, word := range words {
		writeEvent(w, dify.StreamEvent{
			Event:          dify.EventMessage,
			MessageID:      messageID,
			ConversationID: conversationID,
			Answer:         word,
			CreatedAt:      created,
		})
		flusher.Flush()
		time.Sleep(chunkDelay)
	}

	writeEvent(w, dify.StreamEvent{
		Event:          dify.EventMessageEnd,
		MessageID:      messageID,
		ConversationID: conversationID,
		Metadata:       usageFor("", answer),
		CreatedAt:      created,
	})
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, event dify.StreamEvent) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func usageFor(query, answer string) dify.Metadata {
	prompt := len(strings.Fields(query))
	completion := len(strings.Fields(answer))
	return dify.Metadata{
		Usage: dify.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}
}
