// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"qwork_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types so modules only import internal/events.
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var (
	NewBaseEvent   = events.NewBaseEvent
	NewBaseEventAt = events.NewBaseEventAt
	NewInMemoryBus = events.NewInMemoryBus
)

// =============================================================================
// Lifecycle Domain Events
// =============================================================================

// LoteStatusChanged is published after a committed lote transition,
// including automatic recomputation.
type LoteStatusChanged struct {
	BaseEvent
	LoteID    int64  `json:"loteId"`
	Codigo    string `json:"codigo"`
	From      string `json:"from"`
	To        string `json:"to"`
	ActorCPF  string `json:"actorCpf"`
	Automatic bool   `json:"automatic"`
}

func (e LoteStatusChanged) EventName() string { return "lifecycle.lote.status_changed" }

// AvaliacaoInativada is published after an assessment was inactivated.
type AvaliacaoInativada struct {
	BaseEvent
	AvaliacaoID    int64  `json:"avaliacaoId"`
	LoteID         int64  `json:"loteId"`
	FuncionarioCPF string `json:"funcionarioCpf"`
	Forced         bool   `json:"forced"`
	ActorCPF       string `json:"actorCpf"`
}

func (e AvaliacaoInativada) EventName() string { return "lifecycle.avaliacao.inativada" }

// LaudoEmitido is published once, when a laudo is emitted for the first time.
type LaudoEmitido struct {
	BaseEvent
	LoteID     int64  `json:"loteId"`
	Hash       string `json:"hash"`
	EmissorCPF string `json:"emissorCpf"`
}

func (e LaudoEmitido) EventName() string { return "lifecycle.laudo.emitido" }

// LaudoEnviado is published when an emitted laudo is delivered to its requester.
type LaudoEnviado struct {
	BaseEvent
	LoteID        int64  `json:"loteId"`
	Codigo        string `json:"codigo"`
	RecipientCPF  string `json:"recipientCpf"`
	ContratanteID *int64 `json:"contratanteId,omitempty"`
}

func (e LaudoEnviado) EventName() string { return "lifecycle.laudo.enviado" }

// =============================================================================
// Billing Domain Events
// =============================================================================

// ContaAtivada is published after an account activation commits.
type ContaAtivada struct {
	BaseEvent
	ContratanteID int64  `json:"contratanteId"`
	Isencao       bool   `json:"isencao"`
	ActorCPF      string `json:"actorCpf"`
}

func (e ContaAtivada) EventName() string { return "billing.conta.ativada" }

// PagamentoConfirmado is published after a payment is confirmed.
type PagamentoConfirmado struct {
	BaseEvent
	PagamentoID   int64 `json:"pagamentoId"`
	ContratanteID int64 `json:"contratanteId"`
}

func (e PagamentoConfirmado) EventName() string { return "billing.pagamento.confirmado" }

// ParcelaStatusChanged is published after a single installment changed status.
type ParcelaStatusChanged struct {
	BaseEvent
	PagamentoID   int64  `json:"pagamentoId"`
	ContratanteID int64  `json:"contratanteId"`
	Numero        int    `json:"numero"`
	From          string `json:"from"`
	To            string `json:"to"`
	Quitado       bool   `json:"quitado"`
}

func (e ParcelaStatusChanged) EventName() string { return "billing.parcela.status_changed" }

// =============================================================================
// Notification Domain Events
// =============================================================================

// NotificationOutboxDue is published by the scheduler when a notification outbox
// record should be processed.
type NotificationOutboxDue struct {
	BaseEvent
	OutboxID uuid.UUID `json:"outboxId"`
}

func (e NotificationOutboxDue) EventName() string { return "notification.outbox.due" }
