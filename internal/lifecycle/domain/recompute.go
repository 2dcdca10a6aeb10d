package domain

// AssessmentCounts aggregates a lote's assessments by status.
type AssessmentCounts struct {
	Total      int
	Rascunho   int
	Pendentes  int
	Concluidas int
	Inativadas int
}

// Tally builds counts from a list of statuses.
func Tally(statuses []AvaliacaoStatus) AssessmentCounts {
	var c AssessmentCounts
	for _, s := range statuses {
		c.Total++
		switch s {
		case AvaliacaoRascunho:
			c.Rascunho++
		case AvaliacaoIniciada, AvaliacaoEmAndamento:
			c.Pendentes++
		case AvaliacaoConcluida:
			c.Concluidas++
		case AvaliacaoInativada:
			c.Inativadas++
		}
	}
	return c
}

// Liberadas counts the assessments that left draft.
func (c AssessmentCounts) Liberadas() int {
	return c.Total - c.Rascunho
}

// Ativas counts the assessments that are not inactivated.
func (c AssessmentCounts) Ativas() int {
	return c.Total - c.Inativadas
}

// RecomputeDecision is the outcome of re-deriving a lote status from its children.
type RecomputeDecision struct {
	Target        LoteStatus
	Changed       bool
	AutoCompleted bool
	AutoCancelled bool
}

// DecideLoteStatus applies the aggregate rules. Only an ativo lote is moved;
// every later state is owned by explicit transitions and is never regressed.
func DecideLoteStatus(current LoteStatus, c AssessmentCounts) RecomputeDecision {
	keep := RecomputeDecision{Target: current}
	if current != LoteAtivo || c.Total == 0 {
		return keep
	}

	liberadas := c.Liberadas()
	switch {
	case c.Inativadas == c.Total:
		return RecomputeDecision{Target: LoteCancelado, Changed: true, AutoCancelled: true}
	case liberadas > 0 && c.Inativadas == liberadas && c.Concluidas == 0:
		return RecomputeDecision{Target: LoteCancelado, Changed: true, AutoCancelled: true}
	case liberadas > 0 && c.Concluidas > 0 && c.Concluidas+c.Inativadas == liberadas:
		return RecomputeDecision{Target: LoteConcluido, Changed: true, AutoCompleted: true}
	}
	return keep
}
