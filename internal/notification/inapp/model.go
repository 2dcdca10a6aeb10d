package inapp

import (
	"time"

	"github.com/google/uuid"
)

// Prioridade orders notifications for display and decides email mirroring.
type Prioridade string

const (
	PrioridadeBaixa   Prioridade = "baixa"
	PrioridadeMedia   Prioridade = "media"
	PrioridadeAlta    Prioridade = "alta"
	PrioridadeCritica Prioridade = "critica"
)

func (p Prioridade) Valid() bool {
	switch p {
	case PrioridadeBaixa, PrioridadeMedia, PrioridadeAlta, PrioridadeCritica:
		return true
	}
	return false
}

// Urgent reports whether the notification is also sent by email.
func (p Prioridade) Urgent() bool {
	return p == PrioridadeAlta || p == PrioridadeCritica
}

// DestinatarioTipo is the kind of recipient a notification addresses.
type DestinatarioTipo string

const (
	DestinatarioContratante DestinatarioTipo = "contratante"
	DestinatarioClinica     DestinatarioTipo = "clinica"
	DestinatarioFuncionario DestinatarioTipo = "funcionario"
	DestinatarioGestor      DestinatarioTipo = "gestor"
	DestinatarioAdmin       DestinatarioTipo = "admin"
)

func (t DestinatarioTipo) Valid() bool {
	switch t {
	case DestinatarioContratante, DestinatarioClinica, DestinatarioFuncionario, DestinatarioGestor, DestinatarioAdmin:
		return true
	}
	return false
}

// ByAccount reports whether the recipient is addressed by account id rather than CPF.
func (t DestinatarioTipo) ByAccount() bool {
	return t == DestinatarioContratante || t == DestinatarioClinica
}

// Context keys with special meaning.
const (
	ContextLoteID        = "lote_id"
	ContextPagamentoID   = "pagamento_id"
	ContextNumeroParcela = "numero_parcela"
	ContextContratanteID = "contratante_id"
)

type Notification struct {
	ID               uuid.UUID        `json:"id"`
	Tipo             string           `json:"tipo"`
	Prioridade       Prioridade       `json:"prioridade"`
	DestinatarioCPF  string           `json:"destinatarioCpf"`
	DestinatarioTipo DestinatarioTipo `json:"destinatarioTipo"`
	Titulo           string           `json:"titulo"`
	Mensagem         string           `json:"mensagem"`
	Contexto         map[string]any   `json:"dadosContexto"`
	LinkAcao         *string          `json:"linkAcao,omitempty"`
	BotaoTexto       *string          `json:"botaoTexto,omitempty"`
	Lida             bool             `json:"lida"`
	DataLeitura      *time.Time       `json:"dataLeitura,omitempty"`
	Resolvida        bool             `json:"resolvida"`
	ResolvidaPor     *string          `json:"resolvidaPor,omitempty"`
	ResolvidaEm      *time.Time       `json:"resolvidaEm,omitempty"`
	ExpiraEm         *time.Time       `json:"expiraEm,omitempty"`
	CriadoEm         time.Time        `json:"criadoEm"`
}

// CreateParams describes a notification to create. Account recipients
// (contratante, clinica) are addressed by DestinatarioID, people by CPF.
type CreateParams struct {
	Tipo             string
	Prioridade       Prioridade
	DestinatarioTipo DestinatarioTipo
	DestinatarioID   *int64
	DestinatarioCPF  string
	Titulo           string
	Mensagem         string
	Contexto         map[string]any
	LinkAcao         string
	BotaoTexto       string
	ExpiraEm         *time.Time
}

// CreateResult is the id of the open notification and whether this call inserted it.
type CreateResult struct {
	ID      uuid.UUID `json:"id"`
	Created bool      `json:"created"`
}

// Filter narrows a recipient's notification list.
type Filter struct {
	Tipo            string
	Prioridade      Prioridade
	IncludeResolved bool
	Page            int
	PageSize        int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (f Filter) normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	return f
}

func (f Filter) offset() int {
	return (f.Page - 1) * f.PageSize
}

type recipient struct {
	CPF           string
	ContratanteID *int64
	Email         *string
}
