package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestWithContextAddsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter("production", &buf)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, ActorKey, "11111111111")
	log.WithContext(ctx).Transition("lote", 7, "ativo", "concluido", "11111111111")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["request_id"] != "req-1" || line["actor_cpf"] != "11111111111" {
		t.Fatalf("missing context fields: %v", line)
	}
	if _, ok := line["scope"]; ok {
		t.Fatalf("scope must be omitted when absent: %v", line)
	}
	if line["msg"] != "state_transition" || line["to"] != "concluido" {
		t.Fatalf("unexpected transition line: %v", line)
	}
}

func TestBusinessRejectionOnlyInDevelopment(t *testing.T) {
	var prod bytes.Buffer
	newWithWriter("production", &prod).BusinessRejection("op", "conflict", "x")
	if prod.Len() != 0 {
		t.Fatalf("debug line leaked in production: %q", prod.String())
	}

	var dev bytes.Buffer
	newWithWriter("development", &dev).BusinessRejection("op", "conflict", "x")
	if !bytes.Contains(dev.Bytes(), []byte("business_rejection")) {
		t.Fatalf("expected debug line in development, got %q", dev.String())
	}
}
