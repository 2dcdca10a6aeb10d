package service

import (
	"context"
	"fmt"
	"strings"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/events"
	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/lifecycle/ports"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
)

const (
	opCreateLote      = "lifecycle.lote.create"
	opGetLote         = "lifecycle.lote.get"
	opTransitionLote  = "lifecycle.lote.transition"
	opRecomputeLote   = "lifecycle.lote.recompute"
	opRequestEmission = "lifecycle.lote.request_emission"
)

// Roles allowed to manage lotes. Emissores also move lotes along the emission pipeline.
var (
	loteManagerRoles    = []caller.Role{caller.RoleRH, caller.RoleGestor, caller.RoleAdmin, caller.RoleSystem}
	loteTransitionRoles = []caller.Role{caller.RoleRH, caller.RoleGestor, caller.RoleAdmin, caller.RoleEmissor, caller.RoleSystem}
)

// CreateLoteInput describes a new batch.
type CreateLoteInput struct {
	Codigo string
	Tipo   domain.LoteTipo
	// Scope is required for privileged callers and ignored for scoped ones.
	Scope           *caller.Scope
	FuncionarioCPFs []string
	// Liberar creates the lote directly in ativo with assessments in iniciada.
	Liberar bool
}

// LoteDetail is a lote with its laudo, assessment counts and open emission request.
type LoteDetail struct {
	Lote     domain.Lote
	Laudo    domain.Laudo
	Counts   domain.AssessmentCounts
	Emission *domain.EmissionRequest
}

// RecomputeResult reports the aggregate status after recomputation.
type RecomputeResult struct {
	LoteID        int64             `json:"loteId"`
	Status        domain.LoteStatus `json:"status"`
	AutoCompleted bool              `json:"autoCompleted"`
	AutoCancelled bool              `json:"autoCancelled"`
}

// CreateLote creates a lote, reserves its laudo and creates one assessment per subject.
func (s *Service) CreateLote(ctx context.Context, c caller.Context, in CreateLoteInput) (LoteDetail, error) {
	if err := c.Validate(); err != nil {
		return LoteDetail{}, s.fail(ctx, opCreateLote, err)
	}
	if !c.HasRole(loteManagerRoles...) {
		return LoteDetail{}, s.fail(ctx, opCreateLote, apperr.Forbidden("perfil sem permissão para criar lotes"))
	}
	if !in.Tipo.Valid() {
		return LoteDetail{}, s.fail(ctx, opCreateLote, apperr.Validation("tipo de lote inválido"))
	}

	scope := c.Scope
	if c.Privileged() {
		if in.Scope == nil {
			return LoteDetail{}, s.fail(ctx, opCreateLote, apperr.Validation("escopo do lote é obrigatório"))
		}
		scope = *in.Scope
	}
	if err := scope.Validate(); err != nil {
		return LoteDetail{}, s.fail(ctx, opCreateLote, err)
	}

	cpfs := uniqueCPFs(in.FuncionarioCPFs)
	if in.Liberar && len(cpfs) == 0 {
		return LoteDetail{}, s.fail(ctx, opCreateLote, apperr.Validation("um lote liberado precisa de ao menos um funcionário"))
	}

	var detail LoteDetail
	var published []events.Event
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		if len(cpfs) > 0 {
			if err := checkSubjectScopes(ctx, tx, scope, cpfs); err != nil {
				return err
			}
		}

		if err := tx.Lotes().LockScope(ctx, scope); err != nil {
			return err
		}
		ordem, err := tx.Lotes().NextNumeroOrdem(ctx, scope)
		if err != nil {
			return err
		}

		now := s.now()
		params := ports.CreateLoteParams{
			Codigo:      strings.TrimSpace(in.Codigo),
			Tipo:        in.Tipo,
			Status:      domain.LoteRascunho,
			Scope:       scope,
			NumeroOrdem: ordem,
			LiberadoPor: c.ActorCPF,
		}
		if params.Codigo == "" {
			params.Codigo = fmt.Sprintf("L%s-%03d", scopeCode(scope), ordem)
		}
		avaliacaoStatus := domain.AvaliacaoRascunho
		if in.Liberar {
			params.Status = domain.LoteAtivo
			params.LiberadoEm = &now
			avaliacaoStatus = domain.AvaliacaoIniciada
		}

		lote, err := tx.Lotes().Create(ctx, params)
		if err != nil {
			return err
		}
		laudo, err := tx.Laudos().Reserve(ctx, lote.ID)
		if err != nil {
			return err
		}
		if len(cpfs) > 0 {
			if _, err := tx.Avaliacoes().CreateBatch(ctx, lote.ID, cpfs, avaliacaoStatus, now); err != nil {
				return err
			}
		}

		if err := record(ctx, tx, c, audit.ActionLoteCriado, audit.ResourceLote, lote.ID,
			fmt.Sprintf("lote %s criado com %d avaliação(ões)", lote.Codigo, len(cpfs)),
			map[string]any{"status": lote.Status, "numero_ordem": lote.NumeroOrdem, "tipo": lote.Tipo},
		); err != nil {
			return err
		}

		statuses := make([]domain.AvaliacaoStatus, len(cpfs))
		for i := range statuses {
			statuses[i] = avaliacaoStatus
		}
		detail = LoteDetail{Lote: lote, Laudo: laudo, Counts: domain.Tally(statuses)}
		if in.Liberar {
			published = append(published, events.LoteStatusChanged{
				BaseEvent: events.NewBaseEventAt(s.now()), LoteID: lote.ID, Codigo: lote.Codigo,
				From: string(domain.LoteRascunho), To: string(domain.LoteAtivo), ActorCPF: c.ActorCPF,
			})
		}
		return nil
	})
	if err != nil {
		return LoteDetail{}, s.fail(ctx, opCreateLote, err)
	}

	s.publish(ctx, published...)
	return detail, nil
}

// GetLote returns a lote the caller may see.
func (s *Service) GetLote(ctx context.Context, c caller.Context, id int64) (LoteDetail, error) {
	if err := c.Validate(); err != nil {
		return LoteDetail{}, s.fail(ctx, opGetLote, err)
	}

	var detail LoteDetail
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		lote, err := tx.Lotes().Get(ctx, id)
		if err != nil {
			return err
		}
		if !c.CanAccess(lote.Scope) {
			return apperr.NotFound("lote não encontrado")
		}
		laudo, err := tx.Laudos().Get(ctx, id)
		if err != nil {
			return err
		}
		statuses, err := tx.Avaliacoes().StatusesByLote(ctx, id)
		if err != nil {
			return err
		}
		req, err := tx.EmissionQueue().Get(ctx, id)
		if err != nil {
			return err
		}
		detail = LoteDetail{Lote: lote, Laudo: laudo, Counts: domain.Tally(statuses), Emission: req}
		return nil
	})
	if err != nil {
		return LoteDetail{}, s.fail(ctx, opGetLote, err)
	}
	return detail, nil
}

// TransitionLote applies an explicit lote transition from the legal table.
func (s *Service) TransitionLote(ctx context.Context, c caller.Context, id int64, target domain.LoteStatus) (domain.Lote, error) {
	return s.transitionLote(ctx, opTransitionLote, c, id, target)
}

// RequestEmission moves a concluido lote to emissao_solicitada and opens its
// emission request in the same transaction.
func (s *Service) RequestEmission(ctx context.Context, c caller.Context, id int64) (domain.Lote, error) {
	return s.transitionLote(ctx, opRequestEmission, c, id, domain.LoteEmissaoSolicitada)
}

func (s *Service) transitionLote(ctx context.Context, op string, c caller.Context, id int64, target domain.LoteStatus) (domain.Lote, error) {
	if err := c.Validate(); err != nil {
		return domain.Lote{}, s.fail(ctx, op, err)
	}
	if !c.HasRole(loteTransitionRoles...) {
		return domain.Lote{}, s.fail(ctx, op, apperr.Forbidden("perfil sem permissão para alterar lotes"))
	}
	if !target.Valid() {
		return domain.Lote{}, s.fail(ctx, op, apperr.Validation("status de lote desconhecido: "+string(target)))
	}

	var result domain.Lote
	var published []events.Event
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		lote, err := loadLote(ctx, tx, c, id)
		if err != nil {
			return err
		}
		if err := checkExplicitLoteTransition(ctx, tx, lote, target); err != nil {
			return err
		}
		evt, err := s.applyLoteTransition(ctx, tx, c, lote, target, false)
		if err != nil {
			return err
		}
		published = append(published, evt)

		if target == domain.LoteEmissaoSolicitada {
			if _, err := tx.Notifier().Notify(ctx, ports.NotificationRequest{
				Tipo:             NotifEmissaoSolicitada,
				Prioridade:       notifPrioridadeMedia,
				DestinatarioCPF:  c.ActorCPF,
				DestinatarioTipo: notifDestinatarioGestor,
				Titulo:           fmt.Sprintf("Emissão do lote %s solicitada", lote.Codigo),
				Mensagem:         fmt.Sprintf("A emissão do laudo do lote %s foi solicitada e será processada pelo emissor.", lote.Codigo),
				Contexto:         map[string]any{notifContextLoteID: lote.ID, "codigo": lote.Codigo},
			}); err != nil {
				return err
			}
		}

		lote.Status = target
		result = lote
		return nil
	})
	if err != nil {
		return domain.Lote{}, s.fail(ctx, op, err)
	}

	s.publish(ctx, published...)
	return result, nil
}

// RecomputeLote re-derives the lote status from its assessments.
func (s *Service) RecomputeLote(ctx context.Context, c caller.Context, id int64) (RecomputeResult, error) {
	if err := c.Validate(); err != nil {
		return RecomputeResult{}, s.fail(ctx, opRecomputeLote, err)
	}
	if !c.HasRole(loteManagerRoles...) {
		return RecomputeResult{}, s.fail(ctx, opRecomputeLote, apperr.Forbidden("perfil sem permissão para recalcular lotes"))
	}

	var result RecomputeResult
	var published []events.Event
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		if _, err := loadLote(ctx, tx, c, id); err != nil {
			return err
		}
		r, evts, err := s.recompute(ctx, tx, c, id)
		if err != nil {
			return err
		}
		result = r
		published = evts
		return nil
	})
	if err != nil {
		return RecomputeResult{}, s.fail(ctx, opRecomputeLote, err)
	}

	s.publish(ctx, published...)
	return result, nil
}

// recompute runs inside the caller's transaction so the aggregate change
// commits together with the assessment mutation that triggered it.
func (s *Service) recompute(ctx context.Context, tx ports.Tx, c caller.Context, loteID int64) (RecomputeResult, []events.Event, error) {
	if err := tx.Lotes().LockAggregate(ctx, loteID); err != nil {
		return RecomputeResult{}, nil, err
	}
	lote, err := tx.Lotes().GetForUpdate(ctx, loteID)
	if err != nil {
		return RecomputeResult{}, nil, err
	}
	statuses, err := tx.Avaliacoes().StatusesByLote(ctx, loteID)
	if err != nil {
		return RecomputeResult{}, nil, err
	}

	decision := domain.DecideLoteStatus(lote.Status, domain.Tally(statuses))
	result := RecomputeResult{LoteID: loteID, Status: decision.Target}
	if !decision.Changed {
		return result, nil, nil
	}

	evt, err := s.applyLoteTransition(ctx, tx, c, lote, decision.Target, true)
	if err != nil {
		return RecomputeResult{}, nil, err
	}

	if decision.AutoCompleted {
		if _, err := tx.Notifier().Notify(ctx, ports.NotificationRequest{
			Tipo:             NotifLoteConcluido,
			Prioridade:       notifPrioridadeAlta,
			DestinatarioCPF:  lote.LiberadoPor,
			DestinatarioTipo: notifDestinatarioGestor,
			Titulo:           fmt.Sprintf("Lote %s concluído", lote.Codigo),
			Mensagem:         fmt.Sprintf("Todas as avaliações do lote %s foram finalizadas. Solicite a emissão do laudo.", lote.Codigo),
			Contexto:         map[string]any{notifContextLoteID: loteID, "codigo": lote.Codigo},
		}); err != nil {
			return RecomputeResult{}, nil, err
		}
	}

	result.AutoCompleted = decision.AutoCompleted
	result.AutoCancelled = decision.AutoCancelled
	return result, []events.Event{evt}, nil
}

// checkExplicitLoteTransition adds the preconditions a caller-requested
// transition needs beyond the table.
func checkExplicitLoteTransition(ctx context.Context, tx ports.Tx, lote domain.Lote, target domain.LoteStatus) error {
	if !lote.Status.CanTransitionTo(target) {
		return apperr.IllegalTransition("lote", string(lote.Status), string(target))
	}

	switch target {
	case domain.LoteAtivo:
		statuses, err := tx.Avaliacoes().StatusesByLote(ctx, lote.ID)
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			return apperr.Validation("o lote não possui avaliações para liberar")
		}
	case domain.LoteConcluido:
		if lote.Status == domain.LoteAtivo {
			statuses, err := tx.Avaliacoes().StatusesByLote(ctx, lote.ID)
			if err != nil {
				return err
			}
			counts := domain.Tally(statuses)
			if counts.Pendentes > 0 || counts.Concluidas == 0 {
				return apperr.Validation("o lote ainda possui avaliações pendentes")
			}
		}
	case domain.LoteEmissaoSolicitada:
		if lote.Emitted() {
			return apperr.ImmutableAfterEmission("o laudo deste lote já foi emitido")
		}
		laudo, err := tx.Laudos().GetForUpdate(ctx, lote.ID)
		if err != nil {
			return err
		}
		if laudo.Status.Emitted() {
			return apperr.ImmutableAfterEmission("o laudo deste lote já foi emitido")
		}
	case domain.LoteLaudoEmitido:
		return apperr.New(apperr.KindIllegalTransition, "laudo_emitido só é alcançado pela emissão do laudo").
			WithDetails(map[string]string{"entity": "lote", "from": string(lote.Status), "to": string(target)})
	case domain.LoteFinalizado:
		laudo, err := tx.Laudos().GetForUpdate(ctx, lote.ID)
		if err != nil {
			return err
		}
		if laudo.Status != domain.LaudoEnviado {
			return apperr.New(apperr.KindIllegalTransition, "o lote só é finalizado após o envio do laudo").
				WithDetails(map[string]string{"entity": "lote", "from": string(lote.Status), "to": string(target)})
		}
	}
	return nil
}

// applyLoteTransition performs the conditioned write and keeps the emission
// queue in step with the lote status.
func (s *Service) applyLoteTransition(ctx context.Context, tx ports.Tx, c caller.Context, lote domain.Lote, target domain.LoteStatus, automatic bool) (events.Event, error) {
	if !lote.Status.CanTransitionTo(target) {
		return nil, apperr.IllegalTransition("lote", string(lote.Status), string(target))
	}

	now := s.now()
	changed, err := tx.Lotes().UpdateStatus(ctx, lote.ID, lote.Status, target, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, apperr.AlreadyProcessed("o lote foi alterado por outra operação")
	}

	switch {
	case target == domain.LoteAtivo && lote.Status == domain.LoteRascunho:
		if _, err := tx.Avaliacoes().ReleaseDrafts(ctx, lote.ID, now); err != nil {
			return nil, err
		}
	case target == domain.LoteEmissaoSolicitada && lote.Status == domain.LoteConcluido:
		if _, err := tx.EmissionQueue().Enqueue(ctx, lote.ID, c.ActorCPF, now); err != nil {
			return nil, err
		}
	case target == domain.LoteEmissaoEmAndamento:
		req, err := tx.EmissionQueue().Get(ctx, lote.ID)
		if err != nil {
			return nil, err
		}
		if req == nil {
			return nil, apperr.Conflict("solicitação de emissão ausente para o lote")
		}
	case target == domain.LoteConcluido && lote.Status.InEmissionPipeline(),
		target == domain.LoteCancelado && lote.Status.InEmissionPipeline():
		if _, err := tx.EmissionQueue().Remove(ctx, lote.ID); err != nil {
			return nil, err
		}
	}

	action := audit.ActionLoteTransicao
	switch {
	case automatic:
		action = audit.ActionLoteRecalculado
	case target == domain.LoteEmissaoSolicitada:
		action = audit.ActionEmissaoSolicitada
	}
	if err := record(ctx, tx, c, action, audit.ResourceLote, lote.ID,
		fmt.Sprintf("lote %s: %s -> %s", lote.Codigo, lote.Status, target),
		map[string]any{"de": lote.Status, "para": target, "automatico": automatic},
	); err != nil {
		return nil, err
	}

	s.logTransition("lote", lote.ID, string(lote.Status), string(target), c.ActorCPF)
	return events.LoteStatusChanged{
		BaseEvent: events.NewBaseEventAt(s.now()),
		LoteID:    lote.ID,
		Codigo:    lote.Codigo,
		From:      string(lote.Status),
		To:        string(target),
		ActorCPF:  c.ActorCPF,
		Automatic: automatic,
	}, nil
}

func checkSubjectScopes(ctx context.Context, tx ports.Tx, scope caller.Scope, cpfs []string) error {
	scopes, err := tx.Funcionarios().ScopesByCPF(ctx, cpfs)
	if err != nil {
		return err
	}
	for _, cpf := range cpfs {
		subject, ok := scopes[cpf]
		if !ok {
			return apperr.Validation("funcionário não encontrado: " + cpf)
		}
		if !subject.Equal(scope) {
			return apperr.Validation("funcionário " + cpf + " não pertence ao escopo do lote")
		}
	}
	return nil
}

func uniqueCPFs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		cpf := strings.TrimSpace(raw)
		if cpf == "" {
			continue
		}
		if _, ok := seen[cpf]; ok {
			continue
		}
		seen[cpf] = struct{}{}
		out = append(out, cpf)
	}
	return out
}

func scopeCode(scope caller.Scope) string {
	switch scope.Kind {
	case caller.ScopeEmpresa:
		return fmt.Sprintf("E%d", *scope.EmpresaID)
	case caller.ScopeEntidade:
		return fmt.Sprintf("C%d", *scope.ContratanteID)
	}
	return ""
}
