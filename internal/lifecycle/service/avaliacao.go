package service

import (
	"context"
	"fmt"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/events"
	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/lifecycle/ports"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
)

const (
	opInactivate        = "lifecycle.avaliacao.inactivate"
	opCheckEligibility  = "lifecycle.avaliacao.check_eligibility"
	opStartAvaliacao    = "lifecycle.avaliacao.start"
	opCompleteAvaliacao = "lifecycle.avaliacao.complete"

	reasonLaudoEmitido = "laudo do lote já emitido"
	reasonJaConcluida  = "avaliação já concluída"
	reasonJaInativada  = "avaliação já inativada"
)

// InactivationResult is returned by a successful inactivation.
type InactivationResult struct {
	Avaliacao domain.Avaliacao
	Forced    bool
	Guard     domain.GuardResult
	Lote      RecomputeResult
}

// AvaliacaoResult is returned by start and completion.
type AvaliacaoResult struct {
	Avaliacao domain.Avaliacao
	Lote      RecomputeResult
}

// BlockedInactivation is attached to ConsecutiveInactivationBlocked errors.
type BlockedInactivation struct {
	domain.GuardResult
	Message string `json:"message"`
}

// InactivateAvaliacao marks an assessment inativada after the justification,
// immutability and consecutive-inactivation checks, then recomputes its lote.
func (s *Service) InactivateAvaliacao(ctx context.Context, c caller.Context, id int64, justificativa string, forcar bool) (InactivationResult, error) {
	if err := c.Validate(); err != nil {
		return InactivationResult{}, s.fail(ctx, opInactivate, err)
	}
	if !c.HasRole(caller.RoleRH, caller.RoleGestor, caller.RoleAdmin) {
		return InactivationResult{}, s.fail(ctx, opInactivate, apperr.Forbidden("perfil sem permissão para inativar avaliações"))
	}
	motivo, err := s.rules.Validate(justificativa, forcar)
	if err != nil {
		return InactivationResult{}, s.fail(ctx, opInactivate, err)
	}

	var result InactivationResult
	var published []events.Event
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		av, lote, err := lockAvaliacao(ctx, tx, c, id)
		if err != nil {
			return err
		}
		if lote.Emitted() {
			return apperr.ImmutableAfterEmission("o laudo do lote já foi emitido; a avaliação não pode mais ser alterada")
		}
		switch {
		case av.Status == domain.AvaliacaoInativada:
			return apperr.AlreadyProcessed("a avaliação já está inativada")
		case av.Status.IsTerminal():
			return apperr.IllegalTransition("avaliacao", string(av.Status), string(domain.AvaliacaoInativada))
		}

		history, err := tx.Avaliacoes().PriorInScope(ctx, av.FuncionarioCPF, lote.Scope, lote.NumeroOrdem)
		if err != nil {
			return err
		}
		guard := domain.EvaluateInactivation(history, s.rules.ForcedMin)
		if !guard.Permitted && !forcar {
			return apperr.New(apperr.KindConsecutiveInactivationBlocked, guard.Reason).WithDetails(BlockedInactivation{
				GuardResult: guard,
				Message: fmt.Sprintf("reenvie com forcar=true e justificativa de no mínimo %d caracteres para prosseguir",
					s.rules.ForcedMin),
			})
		}

		now := s.now()
		changed, err := tx.Avaliacoes().Inactivate(ctx, av.ID, motivo, now)
		if err != nil {
			return err
		}
		if !changed {
			return apperr.AlreadyProcessed("a avaliação foi alterada por outra operação")
		}

		action := audit.ActionInativacaoNormal
		if forcar {
			action = audit.ActionInativacaoForcada
		}
		if err := record(ctx, tx, c, action, audit.ResourceAvaliacao, av.ID, motivo, map[string]any{
			"lote_id":                        lote.ID,
			"status_anterior":                av.Status,
			"forcar":                         forcar,
			"total_inativacoes_consecutivas": guard.ConsecutiveCount,
			"motivo_guarda":                  guard.Reason,
		}); err != nil {
			return err
		}
		s.logTransition("avaliacao", av.ID, string(av.Status), string(domain.AvaliacaoInativada), c.ActorCPF)

		recomputed, evts, err := s.recompute(ctx, tx, c, lote.ID)
		if err != nil {
			return err
		}

		av.Status = domain.AvaliacaoInativada
		av.MotivoInativacao = &motivo
		av.InativadaEm = &now
		result = InactivationResult{Avaliacao: av, Forced: forcar, Guard: guard, Lote: recomputed}
		published = append(evts, events.AvaliacaoInativada{
			BaseEvent:      events.NewBaseEventAt(s.now()),
			AvaliacaoID:    av.ID,
			LoteID:         lote.ID,
			FuncionarioCPF: av.FuncionarioCPF,
			Forced:         forcar,
			ActorCPF:       c.ActorCPF,
		})
		return nil
	})
	if err != nil {
		return InactivationResult{}, s.fail(ctx, opInactivate, err)
	}

	s.publish(ctx, published...)
	return result, nil
}

// CheckInactivationEligibility evaluates the guard without mutating anything.
// Terminal assessments and emitted lotes report permitted=false instead of failing.
func (s *Service) CheckInactivationEligibility(ctx context.Context, c caller.Context, id int64) (domain.GuardResult, error) {
	if err := c.Validate(); err != nil {
		return domain.GuardResult{}, s.fail(ctx, opCheckEligibility, err)
	}

	var result domain.GuardResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		av, err := tx.Avaliacoes().Get(ctx, id)
		if err != nil {
			return err
		}
		lote, err := tx.Lotes().Get(ctx, av.LoteID)
		if err != nil {
			return err
		}
		if !c.CanAccess(lote.Scope) {
			return apperr.NotFound("avaliação não encontrada")
		}

		switch {
		case lote.Emitted():
			result = domain.GuardResult{Reason: reasonLaudoEmitido}
			return nil
		case av.Status == domain.AvaliacaoInativada:
			result = domain.GuardResult{Reason: reasonJaInativada}
			return nil
		case av.Status == domain.AvaliacaoConcluida:
			result = domain.GuardResult{Reason: reasonJaConcluida}
			return nil
		}

		history, err := tx.Avaliacoes().PriorInScope(ctx, av.FuncionarioCPF, lote.Scope, lote.NumeroOrdem)
		if err != nil {
			return err
		}
		result = domain.EvaluateInactivation(history, s.rules.ForcedMin)
		return nil
	})
	if err != nil {
		return domain.GuardResult{}, s.fail(ctx, opCheckEligibility, err)
	}
	return result, nil
}

// StartAvaliacao moves rascunho to iniciada, or iniciada to em_andamento.
func (s *Service) StartAvaliacao(ctx context.Context, c caller.Context, id int64) (AvaliacaoResult, error) {
	return s.advanceAvaliacao(ctx, opStartAvaliacao, c, id, func(current domain.AvaliacaoStatus) domain.AvaliacaoStatus {
		if current == domain.AvaliacaoRascunho {
			return domain.AvaliacaoIniciada
		}
		return domain.AvaliacaoEmAndamento
	})
}

// CompleteAvaliacao moves a pending assessment to concluido and recomputes its lote.
func (s *Service) CompleteAvaliacao(ctx context.Context, c caller.Context, id int64) (AvaliacaoResult, error) {
	return s.advanceAvaliacao(ctx, opCompleteAvaliacao, c, id, func(domain.AvaliacaoStatus) domain.AvaliacaoStatus {
		return domain.AvaliacaoConcluida
	})
}

func (s *Service) advanceAvaliacao(ctx context.Context, op string, c caller.Context, id int64, next func(domain.AvaliacaoStatus) domain.AvaliacaoStatus) (AvaliacaoResult, error) {
	if err := c.Validate(); err != nil {
		return AvaliacaoResult{}, s.fail(ctx, op, err)
	}

	var result AvaliacaoResult
	var published []events.Event
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		av, lote, err := lockAvaliacao(ctx, tx, c, id)
		if err != nil {
			return err
		}
		if c.Role == caller.RoleFuncionario && av.FuncionarioCPF != c.ActorCPF {
			return apperr.NotFound("avaliação não encontrada")
		}
		if lote.Emitted() {
			return apperr.ImmutableAfterEmission("o laudo do lote já foi emitido; a avaliação não pode mais ser alterada")
		}

		target := next(av.Status)
		if !av.Status.CanTransitionTo(target) {
			if av.Status == target {
				return apperr.AlreadyProcessed("a avaliação já está em " + string(target))
			}
			return apperr.IllegalTransition("avaliacao", string(av.Status), string(target))
		}
		if lote.Status != domain.LoteAtivo {
			return apperr.Conflict("o lote não está ativo")
		}

		now := s.now()
		changed, err := tx.Avaliacoes().UpdateStatus(ctx, av.ID, av.Status, target, now)
		if err != nil {
			return err
		}
		if !changed {
			return apperr.AlreadyProcessed("a avaliação foi alterada por outra operação")
		}

		action := audit.ActionAvaliacaoIniciada
		if target == domain.AvaliacaoConcluida {
			action = audit.ActionAvaliacaoConcluida
		}
		if err := record(ctx, tx, c, action, audit.ResourceAvaliacao, av.ID,
			fmt.Sprintf("avaliação %d: %s -> %s", av.ID, av.Status, target),
			map[string]any{"lote_id": lote.ID},
		); err != nil {
			return err
		}
		s.logTransition("avaliacao", av.ID, string(av.Status), string(target), c.ActorCPF)

		recomputed, evts, err := s.recompute(ctx, tx, c, lote.ID)
		if err != nil {
			return err
		}

		av.Status = target
		switch target {
		case domain.AvaliacaoConcluida:
			av.ConcluidaEm = &now
		case domain.AvaliacaoIniciada:
			av.IniciadaEm = &now
		}
		result = AvaliacaoResult{Avaliacao: av, Lote: recomputed}
		published = evts
		return nil
	})
	if err != nil {
		return AvaliacaoResult{}, s.fail(ctx, op, err)
	}

	s.publish(ctx, published...)
	return result, nil
}

// lockAvaliacao locks the owning lote before the assessment so every
// operation acquires row locks in the same order.
func lockAvaliacao(ctx context.Context, tx ports.Tx, c caller.Context, id int64) (domain.Avaliacao, domain.Lote, error) {
	snapshot, err := tx.Avaliacoes().Get(ctx, id)
	if err != nil {
		return domain.Avaliacao{}, domain.Lote{}, err
	}
	lote, err := tx.Lotes().GetForUpdate(ctx, snapshot.LoteID)
	if err != nil {
		return domain.Avaliacao{}, domain.Lote{}, err
	}
	if !c.CanAccess(lote.Scope) {
		return domain.Avaliacao{}, domain.Lote{}, apperr.NotFound("avaliação não encontrada")
	}
	av, err := tx.Avaliacoes().GetForUpdate(ctx, id)
	if err != nil {
		return domain.Avaliacao{}, domain.Lote{}, err
	}
	return av, lote, nil
}
