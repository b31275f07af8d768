package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/jmorgan/crucible/internal/agent"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Tailscale handles auth
	},
}

// wsIncoming is a message from the client.
type wsIncoming struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// wsOutgoing is a message to the client.
type wsOutgoing struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
	Args    any    `json:"args,omitempty"`
}

// handleWebSocket runs a streaming conversation with one agent. The agent is
// assembled once per connection and keeps its history until the client
// disconnects; its tool runtimes are released when the connection closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	profile, err := s.loadProfile(name)
	if err != nil {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}

	// Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	a, release, err := s.assembleAgent(r.Context(), profile)
	if err != nil {
		wsWriteJSON(conn, wsOutgoing{Type: "error", Content: fmt.Sprintf("assembling agent: %v", err)})
		return
	}
	defer release()

	// Read loop
	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			log.Printf("websocket read error: %v", err)
			return
		}

		if msg.Type != "message" || msg.Content == "" {
			wsWriteJSON(conn, wsOutgoing{Type: "error", Content: "invalid message"})
			continue
		}

		s.processWebSocketMessage(conn, a, name, msg.Content)
	}
}

func (s *Server) processWebSocketMessage(conn *websocket.Conn, a *agent.Agent, agentName, content string) {
	// Mutex for thread-safe writes to the WebSocket connection
	var wsMu sync.Mutex

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var toolsUsed []string

	// Wire agent callbacks to send WebSocket messages
	a.OnTextDelta = func(delta string) {
		wsMu.Lock()
		wsWriteJSON(conn, wsOutgoing{Type: "text_delta", Content: delta})
		wsMu.Unlock()
	}
	a.OnToolCall = func(name string, args map[string]any) {
		toolsUsed = append(toolsUsed, name)
		wsMu.Lock()
		wsWriteJSON(conn, wsOutgoing{Type: "tool_call", Name: name, Args: args})
		wsMu.Unlock()
	}
	a.OnToolResult = func(name string, result string) {
		wsMu.Lock()
		wsWriteJSON(conn, wsOutgoing{Type: "tool_result", Name: name, Content: result})
		wsMu.Unlock()
	}

	started := time.Now()
	response, err := a.RunStreaming(ctx, content)
	s.recordRun(context.Background(), agentName, content, response, toolsUsed, err, started)

	wsMu.Lock()
	defer wsMu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			wsWriteJSON(conn, wsOutgoing{Type: "error", Content: "interrupted"})
		} else {
			wsWriteJSON(conn, wsOutgoing{Type: "error", Content: err.Error()})
		}
		return
	}

	wsWriteJSON(conn, wsOutgoing{Type: "done", Content: response})
}

func wsWriteJSON(conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("websocket marshal error: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}
