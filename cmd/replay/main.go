// Command replay drives a conversation session against a running gateway:
// it connects to the conversation WebSocket, starts listening, prints each
// state frame as it arrives, and stops after the configured duration.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	serverAddr := flag.String("server", "ws://localhost:8080", "Gateway WebSocket base URL")
	duration := flag.Duration("duration", 30*time.Second, "How long to keep the session running")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*serverAddr+"/v1/conversation/ws", nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("Connected to gateway")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if err := json.Unmarshal(data, &frame); err != nil {
				log.Printf("unreadable frame: %v", err)
				continue
			}
			pretty, _ := json.MarshalIndent(frame, "", "  ")
			log.Printf("frame:\n%s", pretty)
		}
	}()

	if err := conn.WriteJSON(map[string]any{"action": "start"}); err != nil {
		log.Fatalf("failed to send start: %v", err)
	}
	log.Println("Session started")

	select {
	case <-time.After(*duration):
	case <-done:
		log.Fatal("connection closed by server")
	}

	if err := conn.WriteJSON(map[string]any{"action": "stop"}); err != nil {
		log.Fatalf("failed to send stop: %v", err)
	}
	log.Println("Session stopped, draining final frames")

	// Give the server a moment to push the post-stop snapshot.
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
