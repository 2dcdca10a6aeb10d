package domain

import (
	"time"

	"qwork_backend/internal/shared/caller"
)

// LoteTipo is the questionnaire variant applied to a batch.
type LoteTipo string

const (
	LoteTipoCompleto    LoteTipo = "completo"
	LoteTipoOperacional LoteTipo = "operacional"
	LoteTipoGestao      LoteTipo = "gestao"
)

func (t LoteTipo) Valid() bool {
	switch t {
	case LoteTipoCompleto, LoteTipoOperacional, LoteTipoGestao:
		return true
	}
	return false
}

// Lote is a batch of assessments released together for one scope.
type Lote struct {
	ID           int64
	Codigo       string
	Tipo         LoteTipo
	Status       LoteStatus
	Scope        caller.Scope
	NumeroOrdem  int
	LiberadoPor  string
	CriadoEm     time.Time
	LiberadoEm   *time.Time
	EmitidoEm    *time.Time
	HashLaudo    *string
	AtualizadoEm time.Time
}

// Emitted reports whether the lote's laudo has been emitted.
// Post-emission immutability is checked against this timestamp only.
func (l Lote) Emitted() bool {
	return l.EmitidoEm != nil
}

// Avaliacao is one subject's assessment inside a lote.
type Avaliacao struct {
	ID               int64
	LoteID           int64
	FuncionarioCPF   string
	Status           AvaliacaoStatus
	MotivoInativacao *string
	InativadaEm      *time.Time
	IniciadaEm       *time.Time
	ConcluidaEm      *time.Time
	CriadoEm         time.Time
}

// Laudo is the compliance report reserved 1:1 with its lote (same id).
type Laudo struct {
	ID         int64
	Status     LaudoStatus
	EmissorCPF *string
	EmitidoEm  *time.Time
	HashPDF    *string
	EnviadoEm  *time.Time
	ArquivoKey *string
	Tentativas int
	UltimoErro *string
	CriadoEm   time.Time
}

// EmissionRequest is the emission queue entry that exists exactly while a lote
// sits in emissao_solicitada or emissao_em_andamento.
type EmissionRequest struct {
	LoteID        int64
	SolicitadoPor string
	SolicitadoEm  time.Time
	Tentativas    int
}

// Funcionario is the assessment subject as far as scope checks need it.
type Funcionario struct {
	CPF   string
	Nome  string
	Scope caller.Scope
	Ativo bool
}
