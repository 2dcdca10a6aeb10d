package domain

import "fmt"

const (
	ReasonNoHistory       = "sem avaliações anteriores"
	ReasonPreviousNotVoid = "avaliação anterior não inativada"
	reasonConsecutiveFmt  = "inativação consecutiva: %d avaliação(ões) anterior(es) inativada(s)"
)

// PriorAssessment is one entry of a subject's in-scope history on an earlier lote.
type PriorAssessment struct {
	AvaliacaoID int64
	LoteID      int64
	LoteCodigo  string
	NumeroOrdem int
	Status      AvaliacaoStatus
}

// GuardResult explains whether an inactivation is permitted.
type GuardResult struct {
	Permitted             bool    `json:"permitted"`
	Reason                string  `json:"reason"`
	ConsecutiveCount      int     `json:"consecutiveCount"`
	LastInactivatedLoteID *int64  `json:"lastInactivatedLoteId,omitempty"`
	LastInactivatedLote   *string `json:"lastInactivatedLote,omitempty"`
	CanForce              bool    `json:"canForce"`
	ForceMinJustification int     `json:"forceMinJustification,omitempty"`
}

// EvaluateInactivation decides the consecutive-inactivation guard.
// history must hold only assessments of the same subject, in the same scope,
// on lotes with a lower batch ordinal than the target, newest ordinal first.
func EvaluateInactivation(history []PriorAssessment, forcedMinLength int) GuardResult {
	if len(history) == 0 {
		return GuardResult{Permitted: true, Reason: ReasonNoHistory}
	}

	latest := history[0]
	if latest.Status != AvaliacaoInativada {
		return GuardResult{Permitted: true, Reason: ReasonPreviousNotVoid}
	}

	count := 0
	for _, h := range history {
		if h.Status != AvaliacaoInativada {
			break
		}
		count++
	}

	loteID := latest.LoteID
	codigo := latest.LoteCodigo
	return GuardResult{
		Permitted:             false,
		Reason:                fmt.Sprintf(reasonConsecutiveFmt, count),
		ConsecutiveCount:      count,
		LastInactivatedLoteID: &loteID,
		LastInactivatedLote:   &codigo,
		CanForce:              true,
		ForceMinJustification: forcedMinLength,
	}
}
