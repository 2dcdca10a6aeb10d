// Package domain holds the lifecycle rules for lotes, avaliações and laudos.
// Everything here is pure: no I/O, no clocks except where passed in.
package domain

// LoteStatus is the state of an assessment batch.
type LoteStatus string

const (
	LoteRascunho           LoteStatus = "rascunho"
	LoteAtivo              LoteStatus = "ativo"
	LoteConcluido          LoteStatus = "concluido"
	LoteEmissaoSolicitada  LoteStatus = "emissao_solicitada"
	LoteEmissaoEmAndamento LoteStatus = "emissao_em_andamento"
	LoteLaudoEmitido       LoteStatus = "laudo_emitido"
	LoteFinalizado         LoteStatus = "finalizado"
	LoteCancelado          LoteStatus = "cancelado"
)

var loteTransitions = map[LoteStatus][]LoteStatus{
	LoteRascunho:           {LoteAtivo, LoteCancelado},
	LoteAtivo:              {LoteConcluido, LoteCancelado},
	LoteConcluido:          {LoteEmissaoSolicitada, LoteCancelado},
	LoteEmissaoSolicitada:  {LoteEmissaoEmAndamento, LoteConcluido, LoteCancelado},
	LoteEmissaoEmAndamento: {LoteLaudoEmitido, LoteEmissaoSolicitada, LoteCancelado},
	LoteLaudoEmitido:       {LoteFinalizado},
	LoteFinalizado:         nil,
	LoteCancelado:          nil,
}

// LoteStatuses lists every lote state in lifecycle order.
func LoteStatuses() []LoteStatus {
	return []LoteStatus{
		LoteRascunho, LoteAtivo, LoteConcluido, LoteEmissaoSolicitada,
		LoteEmissaoEmAndamento, LoteLaudoEmitido, LoteFinalizado, LoteCancelado,
	}
}

func (s LoteStatus) Valid() bool {
	_, ok := loteTransitions[s]
	return ok
}

func (s LoteStatus) IsTerminal() bool {
	return s == LoteCancelado || s == LoteFinalizado
}

// CanTransitionTo reports whether the lote table allows s -> target.
func (s LoteStatus) CanTransitionTo(target LoteStatus) bool {
	return contains(loteTransitions[s], target)
}

// AllowedTargets returns a copy of the legal targets from s.
func (s LoteStatus) AllowedTargets() []LoteStatus {
	return append([]LoteStatus(nil), loteTransitions[s]...)
}

// InEmissionPipeline reports whether an emission request is open for the lote.
func (s LoteStatus) InEmissionPipeline() bool {
	return s == LoteEmissaoSolicitada || s == LoteEmissaoEmAndamento
}

// AvaliacaoStatus is the state of a single assessment.
type AvaliacaoStatus string

const (
	AvaliacaoRascunho    AvaliacaoStatus = "rascunho"
	AvaliacaoIniciada    AvaliacaoStatus = "iniciada"
	AvaliacaoEmAndamento AvaliacaoStatus = "em_andamento"
	AvaliacaoConcluida   AvaliacaoStatus = "concluido"
	AvaliacaoInativada   AvaliacaoStatus = "inativada"
)

var avaliacaoTransitions = map[AvaliacaoStatus][]AvaliacaoStatus{
	AvaliacaoRascunho:    {AvaliacaoIniciada, AvaliacaoInativada},
	AvaliacaoIniciada:    {AvaliacaoEmAndamento, AvaliacaoConcluida, AvaliacaoInativada},
	AvaliacaoEmAndamento: {AvaliacaoConcluida, AvaliacaoInativada},
	AvaliacaoConcluida:   nil,
	AvaliacaoInativada:   nil,
}

// AvaliacaoStatuses lists every assessment state.
func AvaliacaoStatuses() []AvaliacaoStatus {
	return []AvaliacaoStatus{
		AvaliacaoRascunho, AvaliacaoIniciada, AvaliacaoEmAndamento, AvaliacaoConcluida, AvaliacaoInativada,
	}
}

func (s AvaliacaoStatus) Valid() bool {
	_, ok := avaliacaoTransitions[s]
	return ok
}

func (s AvaliacaoStatus) IsTerminal() bool {
	return s == AvaliacaoConcluida || s == AvaliacaoInativada
}

func (s AvaliacaoStatus) CanTransitionTo(target AvaliacaoStatus) bool {
	return contains(avaliacaoTransitions[s], target)
}

// Pending reports whether the subject has started answering.
func (s AvaliacaoStatus) Pending() bool {
	return s == AvaliacaoIniciada || s == AvaliacaoEmAndamento
}

// LaudoStatus is the state of a compliance report.
type LaudoStatus string

const (
	LaudoRascunho LaudoStatus = "rascunho"
	LaudoEmitido  LaudoStatus = "emitido"
	LaudoEnviado  LaudoStatus = "enviado"
	LaudoErro     LaudoStatus = "erro"
)

var laudoTransitions = map[LaudoStatus][]LaudoStatus{
	LaudoRascunho: {LaudoEmitido, LaudoErro},
	LaudoEmitido:  {LaudoEnviado, LaudoErro},
	LaudoErro:     {LaudoRascunho},
	LaudoEnviado:  nil,
}

// LaudoStatuses lists every laudo state.
func LaudoStatuses() []LaudoStatus {
	return []LaudoStatus{LaudoRascunho, LaudoEmitido, LaudoEnviado, LaudoErro}
}

func (s LaudoStatus) Valid() bool {
	_, ok := laudoTransitions[s]
	return ok
}

func (s LaudoStatus) IsTerminal() bool {
	return s == LaudoEnviado
}

func (s LaudoStatus) CanTransitionTo(target LaudoStatus) bool {
	return contains(laudoTransitions[s], target)
}

// Emitted reports whether the laudo content is frozen.
func (s LaudoStatus) Emitted() bool {
	return s == LaudoEmitido || s == LaudoEnviado
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
