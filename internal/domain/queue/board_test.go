package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/domain/encounter"
	"github.com/ehr/patientflow/internal/domain/flow"
	"github.com/ehr/patientflow/internal/platform/websocket"
)

func TestBoard_PublishPushesSnapshot(t *testing.T) {
	p := erCase(lvl(encounter.TriageUrgent), at(10, 0))
	q := erCase(lvl(encounter.TriageEmergency), at(10, 5))
	hub := websocket.NewHub(zerolog.Nop())
	board := NewBoard(newTestService(p, q), hub, zerolog.Nop())

	client := &websocket.Client{ID: "screen", Topics: []string{websocket.Topic(flow.ERPool)}, Send: make(chan []byte, 4)}
	hub.Register(client)
	<-client.Send // initial snapshot

	if err := board.Publish(context.Background(), flow.StatusChanged{Pool: flow.ERPool, EncounterID: q.ID}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var msg websocket.Message
	if err := json.Unmarshal(<-client.Send, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Type != MessageSnapshot || msg.Topic != "queue:ER" {
		t.Fatalf("unexpected message %s %s", msg.Type, msg.Topic)
	}
	var snap Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Entries) != 2 || snap.Entries[0].Encounter.ID != q.ID {
		t.Errorf("expected Q first, got %+v", snap.Entries)
	}
}

func TestBoard_SkipsPoolsWithoutSubscribers(t *testing.T) {
	svc := NewService(&mockSource{err: context.Canceled}, zerolog.Nop())
	board := NewBoard(svc, websocket.NewHub(zerolog.Nop()), zerolog.Nop())

	if err := board.Publish(context.Background(), flow.StatusChanged{Pool: "dr-a"}); err != nil {
		t.Errorf("expected no work without subscribers, got %v", err)
	}
}
