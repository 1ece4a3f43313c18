// Package main runs a demo WebSocket client that follows an asynchronous plan.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const demo = `{
  "async": true,
  "timeBudgetMs": 3000,
  "topology": {"cities": [
    {"name": "Geneve", "lat": 46.2044, "lng": 6.1432},
    {"name": "Lausanne", "lat": 46.5197, "lng": 6.6323},
    {"name": "Bern", "lat": 46.9480, "lng": 7.4474},
    {"name": "Basel", "lat": 47.5596, "lng": 7.5886},
    {"name": "Zurich", "lat": 47.3769, "lng": 8.5417},
    {"name": "Luzern", "lat": 47.0502, "lng": 8.3093}
  ]},
  "carriers": [
    {"id": "van", "capacity": 30, "costPerDistance": 1, "home": "Lausanne"},
    {"id": "truck", "capacity": 80, "costPerDistance": 2.5, "home": "Zurich"}
  ],
  "tasks": [
    {"id": "o1", "pickup": "Geneve", "delivery": "Basel", "weight": 12},
    {"id": "o2", "pickup": "Bern", "delivery": "Luzern", "weight": 20},
    {"id": "o3", "pickup": "Zurich", "delivery": "Geneve", "weight": 45},
    {"id": "o4", "pickup": "Basel", "delivery": "Lausanne", "weight": 8},
    {"id": "o5", "pickup": "Luzern", "delivery": "Bern", "weight": 15}
  ]
}`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	req, _ := http.NewRequest(http.MethodPost, base+"/v1/plans", bytes.NewReader([]byte(demo)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "dispatcher")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("plan request: %s", resp.Status)
	}
	var plan struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		log.Fatal(err)
	}
	log.Printf("Plan ID: %s", plan.ID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/plans/" + plan.ID + "/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	for {
		var m wsMessage
		if err := c.ReadJSON(&m); err != nil {
			log.Printf("read: %v", err)
			return
		}
		if m.Type == "complete" {
			log.Printf("WS <- complete")
			return
		}
		log.Printf("WS <- %s: %s", m.Event, string(m.Payload))
	}
}
