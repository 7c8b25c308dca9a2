package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"

	"github.com/ehr/patientflow/internal/domain/flow"
)

func TestRedisPublisher_Publish(t *testing.T) {
	client, mock := redismock.NewClientMock()
	pub := NewRedisPublisher(client, "")

	evt := flow.StatusChanged{
		EncounterID: uuid.MustParse("0b6f4b8e-3c1a-4f7e-8d2b-5a9c1e2f3d4b"),
		PatientID:   uuid.MustParse("6f1c2b9e-8d1f-4f3c-9a55-1d7f2b3c4d5e"),
		Kind:        "appointment",
		Pool:        "dr-a",
		From:        "in_progress",
		To:          "completed",
		Event:       "complete",
		Version:     5,
		OccurredAt:  time.Date(2026, 3, 2, 9, 40, 0, 0, time.UTC),
	}
	payload, _ := json.Marshal(evt)
	mock.ExpectPublish(DefaultChannel, payload).SetVal(1)

	if err := pub.Publish(context.Background(), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRedisPublisher_Error(t *testing.T) {
	client, mock := redismock.NewClientMock()
	pub := NewRedisPublisher(client, "custom")

	evt := flow.StatusChanged{EncounterID: uuid.New(), To: "cancelled"}
	payload, _ := json.Marshal(evt)
	mock.ExpectPublish("custom", payload).SetErr(errors.New("connection refused"))

	if err := pub.Publish(context.Background(), evt); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "http://nope"); err == nil {
		t.Error("expected error for non-redis url")
	}
}
