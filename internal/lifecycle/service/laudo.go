package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/events"
	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/lifecycle/ports"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
)

const (
	opEmitLaudo       = "lifecycle.laudo.emit"
	opVerifyIntegrity = "lifecycle.laudo.verify_integrity"
	opMarkLaudoError  = "lifecycle.laudo.mark_error"
	opRetryLaudo      = "lifecycle.laudo.retry"
	opMarkLaudoSent   = "lifecycle.laudo.mark_sent"
	opLaudoDownload   = "lifecycle.laudo.download"
)

var laudoOperatorRoles = []caller.Role{caller.RoleEmissor, caller.RoleAdmin, caller.RoleSystem}

// LaudoDownload is a short-lived link to the archived artifact.
type LaudoDownload struct {
	URL       string    `json:"url"`
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// EmitLaudo emits the laudo of a lote. Re-invoking it on an emitted or sent
// laudo returns the stored laudo untouched, whatever bytes are passed.
func (s *Service) EmitLaudo(ctx context.Context, c caller.Context, loteID int64, artifact []byte) (domain.Laudo, error) {
	if err := c.Validate(); err != nil {
		return domain.Laudo{}, s.fail(ctx, opEmitLaudo, err)
	}
	if !c.HasRole(laudoOperatorRoles...) {
		return domain.Laudo{}, s.fail(ctx, opEmitLaudo, apperr.Forbidden("apenas emissores podem emitir laudos"))
	}

	currentLote, existing, err := s.readLoteLaudo(ctx, c, loteID)
	if err != nil {
		return domain.Laudo{}, s.fail(ctx, opEmitLaudo, err)
	}
	if existing.Status.Emitted() {
		return existing, nil
	}
	if len(artifact) == 0 {
		return domain.Laudo{}, s.fail(ctx, opEmitLaudo, apperr.Validation("o arquivo do laudo está vazio"))
	}
	if err := checkEmittable(currentLote, existing); err != nil {
		return domain.Laudo{}, s.fail(ctx, opEmitLaudo, err)
	}

	hash := domain.ComputeHash(artifact)
	var arquivoKey *string
	if s.archive != nil {
		key, err := s.archive.Archive(ctx, loteID, hash, bytes.NewReader(artifact), int64(len(artifact)))
		if err != nil {
			return domain.Laudo{}, s.fail(ctx, opEmitLaudo, apperr.Wrap(apperr.KindInternal, "falha ao arquivar laudo", err))
		}
		arquivoKey = &key
	}

	var result domain.Laudo
	var published []events.Event
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		lote, err := loadLote(ctx, tx, c, loteID)
		if err != nil {
			return err
		}
		laudo, err := tx.Laudos().GetForUpdate(ctx, loteID)
		if err != nil {
			return err
		}
		if laudo.Status.Emitted() {
			result = laudo
			published = nil
			return nil
		}
		if err := checkEmittable(lote, laudo); err != nil {
			return err
		}

		lote, evts, err := s.advanceToEmission(ctx, tx, c, lote)
		if err != nil {
			return err
		}
		published = append(published, evts...)

		now := s.now()
		changed, err := tx.Lotes().MarkEmitted(ctx, lote.ID, hash, now)
		if err != nil {
			return err
		}
		if !changed {
			return apperr.AlreadyProcessed("o lote foi emitido por outra operação")
		}
		changed, err = tx.Laudos().MarkEmitted(ctx, ports.EmitLaudoParams{
			ID: loteID, EmissorCPF: c.ActorCPF, Hash: hash, ArquivoKey: arquivoKey, At: now,
		})
		if err != nil {
			return err
		}
		if !changed {
			return apperr.AlreadyProcessed("o laudo foi emitido por outra operação")
		}
		if _, err := tx.EmissionQueue().Remove(ctx, loteID); err != nil {
			return err
		}
		if _, err := tx.Notifier().ResolveByContext(ctx, notifContextLoteID, fmt.Sprintf("%d", loteID), c.ActorCPF); err != nil {
			return err
		}
		if err := record(ctx, tx, c, audit.ActionLaudoEmitido, audit.ResourceLaudo, loteID,
			fmt.Sprintf("laudo do lote %s emitido", lote.Codigo),
			map[string]any{"hash_pdf": hash, "arquivo": arquivoKey},
		); err != nil {
			return err
		}
		s.logTransition("lote", lote.ID, string(lote.Status), string(domain.LoteLaudoEmitido), c.ActorCPF)
		s.logTransition("laudo", loteID, string(laudo.Status), string(domain.LaudoEmitido), c.ActorCPF)

		emissor := c.ActorCPF
		laudo.Status = domain.LaudoEmitido
		laudo.EmissorCPF = &emissor
		laudo.EmitidoEm = &now
		laudo.HashPDF = &hash
		laudo.ArquivoKey = arquivoKey
		result = laudo

		published = append(published,
			events.LoteStatusChanged{
				BaseEvent: events.NewBaseEventAt(s.now()), LoteID: lote.ID, Codigo: lote.Codigo,
				From: string(lote.Status), To: string(domain.LoteLaudoEmitido), ActorCPF: c.ActorCPF,
			},
			events.LaudoEmitido{BaseEvent: events.NewBaseEventAt(s.now()), LoteID: loteID, Hash: hash, EmissorCPF: c.ActorCPF},
		)
		return nil
	})
	if arquivoKey != nil && (err != nil || result.ArquivoKey == nil || *result.ArquivoKey != *arquivoKey) {
		s.discardArtifact(ctx, *arquivoKey)
	}
	if err != nil {
		return domain.Laudo{}, s.fail(ctx, opEmitLaudo, err)
	}

	s.publish(ctx, published...)
	return result, nil
}

// checkEmittable reports whether the laudo of lote may be emitted now.
func checkEmittable(lote domain.Lote, laudo domain.Laudo) error {
	if laudo.Status != domain.LaudoRascunho {
		return apperr.IllegalTransition("laudo", string(laudo.Status), string(domain.LaudoEmitido))
	}
	if lote.Emitted() {
		return apperr.ImmutableAfterEmission("o lote já possui laudo emitido")
	}
	if lote.Status != domain.LoteConcluido && !lote.Status.InEmissionPipeline() {
		return apperr.IllegalTransition("lote", string(lote.Status), string(domain.LoteLaudoEmitido))
	}
	return nil
}

// discardArtifact removes an uploaded artifact that no laudo row references.
func (s *Service) discardArtifact(ctx context.Context, key string) {
	if err := s.archive.Remove(ctx, key); err != nil && s.log != nil {
		s.log.Warn("failed to remove unreferenced laudo artifact", "key", key, "error", err)
	}
}

// advanceToEmission walks the lote through the emission request states up to
// emissao_em_andamento, each step validated against the table.
func (s *Service) advanceToEmission(ctx context.Context, tx ports.Tx, c caller.Context, lote domain.Lote) (domain.Lote, []events.Event, error) {
	var evts []events.Event
	steps := map[domain.LoteStatus]domain.LoteStatus{
		domain.LoteConcluido:         domain.LoteEmissaoSolicitada,
		domain.LoteEmissaoSolicitada: domain.LoteEmissaoEmAndamento,
	}
	for lote.Status != domain.LoteEmissaoEmAndamento {
		next, ok := steps[lote.Status]
		if !ok {
			return lote, nil, apperr.IllegalTransition("lote", string(lote.Status), string(domain.LoteLaudoEmitido))
		}
		evt, err := s.applyLoteTransition(ctx, tx, c, lote, next, false)
		if err != nil {
			return lote, nil, err
		}
		evts = append(evts, evt)
		lote.Status = next
	}
	return lote, evts, nil
}

// VerifyIntegrity reports whether artifact matches the stored digest.
func (s *Service) VerifyIntegrity(ctx context.Context, c caller.Context, laudoID int64, artifact []byte) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, s.fail(ctx, opVerifyIntegrity, err)
	}
	laudo, err := s.readLaudo(ctx, c, laudoID)
	if err != nil {
		return false, s.fail(ctx, opVerifyIntegrity, err)
	}
	if laudo.HashPDF == nil {
		return false, nil
	}
	return domain.VerifyHash(artifact, *laudo.HashPDF), nil
}

// LaudoDownloadURL presigns a download of the archived artifact of an emitted laudo.
func (s *Service) LaudoDownloadURL(ctx context.Context, c caller.Context, loteID int64) (LaudoDownload, error) {
	if err := c.Validate(); err != nil {
		return LaudoDownload{}, s.fail(ctx, opLaudoDownload, err)
	}
	if s.archive == nil {
		return LaudoDownload{}, s.fail(ctx, opLaudoDownload, apperr.NotFound("arquivamento de laudos desativado"))
	}
	laudo, err := s.readLaudo(ctx, c, loteID)
	if err != nil {
		return LaudoDownload{}, s.fail(ctx, opLaudoDownload, err)
	}
	if !laudo.Status.Emitted() || laudo.ArquivoKey == nil || laudo.HashPDF == nil {
		return LaudoDownload{}, s.fail(ctx, opLaudoDownload, apperr.NotFound("laudo sem arquivo arquivado"))
	}

	url, expiresAt, err := s.archive.DownloadURL(ctx, *laudo.ArquivoKey)
	if err != nil {
		return LaudoDownload{}, s.fail(ctx, opLaudoDownload, apperr.Wrap(apperr.KindInternal, "falha ao gerar link do laudo", err))
	}
	return LaudoDownload{URL: url, Hash: *laudo.HashPDF, ExpiresAt: expiresAt}, nil
}

// MarkLaudoError records a failed generation. Emitted laudos are frozen and
// cannot be marked.
func (s *Service) MarkLaudoError(ctx context.Context, c caller.Context, loteID int64, cause string) (domain.Laudo, error) {
	if err := c.Validate(); err != nil {
		return domain.Laudo{}, s.fail(ctx, opMarkLaudoError, err)
	}
	if !c.HasRole(laudoOperatorRoles...) {
		return domain.Laudo{}, s.fail(ctx, opMarkLaudoError, apperr.Forbidden("apenas emissores podem marcar erro em laudos"))
	}
	cause = strings.TrimSpace(cause)
	if cause == "" {
		return domain.Laudo{}, s.fail(ctx, opMarkLaudoError, apperr.Validation("informe a causa do erro"))
	}

	var result domain.Laudo
	var published []events.Event
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		lote, err := loadLote(ctx, tx, c, loteID)
		if err != nil {
			return err
		}
		laudo, err := tx.Laudos().GetForUpdate(ctx, loteID)
		if err != nil {
			return err
		}
		if laudo.Status.Emitted() {
			return apperr.ImmutableAfterEmission("laudo emitido não pode ser marcado com erro")
		}
		if !laudo.Status.CanTransitionTo(domain.LaudoErro) {
			return apperr.IllegalTransition("laudo", string(laudo.Status), string(domain.LaudoErro))
		}

		changed, err := tx.Laudos().MarkError(ctx, loteID, cause)
		if err != nil {
			return err
		}
		if !changed {
			return apperr.AlreadyProcessed("o laudo foi alterado por outra operação")
		}

		if lote.Status == domain.LoteEmissaoEmAndamento {
			evt, err := s.applyLoteTransition(ctx, tx, c, lote, domain.LoteEmissaoSolicitada, false)
			if err != nil {
				return err
			}
			published = append(published, evt)
		}

		if err := record(ctx, tx, c, audit.ActionLaudoErro, audit.ResourceLaudo, loteID, cause, nil); err != nil {
			return err
		}
		s.logTransition("laudo", loteID, string(laudo.Status), string(domain.LaudoErro), c.ActorCPF)

		laudo.Status = domain.LaudoErro
		laudo.UltimoErro = &cause
		result = laudo
		return nil
	})
	if err != nil {
		return domain.Laudo{}, s.fail(ctx, opMarkLaudoError, err)
	}

	s.publish(ctx, published...)
	return result, nil
}

// RetryLaudo returns an erro laudo to rascunho for a fresh attempt.
func (s *Service) RetryLaudo(ctx context.Context, c caller.Context, loteID int64) (domain.Laudo, error) {
	if err := c.Validate(); err != nil {
		return domain.Laudo{}, s.fail(ctx, opRetryLaudo, err)
	}
	if !c.HasRole(laudoOperatorRoles...) {
		return domain.Laudo{}, s.fail(ctx, opRetryLaudo, apperr.Forbidden("apenas emissores podem reprocessar laudos"))
	}

	var result domain.Laudo
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		lote, err := loadLote(ctx, tx, c, loteID)
		if err != nil {
			return err
		}
		laudo, err := tx.Laudos().GetForUpdate(ctx, loteID)
		if err != nil {
			return err
		}
		if !laudo.Status.CanTransitionTo(domain.LaudoRascunho) {
			return apperr.IllegalTransition("laudo", string(laudo.Status), string(domain.LaudoRascunho))
		}

		changed, err := tx.Laudos().Retry(ctx, loteID)
		if err != nil {
			return err
		}
		if !changed {
			return apperr.AlreadyProcessed("o laudo foi alterado por outra operação")
		}
		if lote.Status.InEmissionPipeline() {
			if _, err := tx.EmissionQueue().Enqueue(ctx, loteID, c.ActorCPF, s.now()); err != nil {
				return err
			}
		}
		if err := record(ctx, tx, c, audit.ActionLaudoReprocessado, audit.ResourceLaudo, loteID,
			fmt.Sprintf("nova tentativa de emissão (%d)", laudo.Tentativas+1), nil,
		); err != nil {
			return err
		}
		s.logTransition("laudo", loteID, string(laudo.Status), string(domain.LaudoRascunho), c.ActorCPF)

		laudo.Status = domain.LaudoRascunho
		laudo.Tentativas++
		result = laudo
		return nil
	})
	if err != nil {
		return domain.Laudo{}, s.fail(ctx, opRetryLaudo, err)
	}
	return result, nil
}

// MarkLaudoSent records delivery of an emitted laudo and finalizes its lote.
// Only the delivery timestamp changes on the laudo.
func (s *Service) MarkLaudoSent(ctx context.Context, c caller.Context, loteID int64) (domain.Laudo, error) {
	if err := c.Validate(); err != nil {
		return domain.Laudo{}, s.fail(ctx, opMarkLaudoSent, err)
	}
	if !c.HasRole(laudoOperatorRoles...) {
		return domain.Laudo{}, s.fail(ctx, opMarkLaudoSent, apperr.Forbidden("apenas emissores podem enviar laudos"))
	}

	var result domain.Laudo
	var published []events.Event
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		lote, err := loadLote(ctx, tx, c, loteID)
		if err != nil {
			return err
		}
		laudo, err := tx.Laudos().GetForUpdate(ctx, loteID)
		if err != nil {
			return err
		}
		if laudo.Status == domain.LaudoEnviado {
			return apperr.AlreadyProcessed("o laudo já foi enviado")
		}
		if !laudo.Status.CanTransitionTo(domain.LaudoEnviado) {
			return apperr.IllegalTransition("laudo", string(laudo.Status), string(domain.LaudoEnviado))
		}

		now := s.now()
		changed, err := tx.Laudos().MarkSent(ctx, loteID, now)
		if err != nil {
			return err
		}
		if !changed {
			return apperr.AlreadyProcessed("o laudo foi alterado por outra operação")
		}

		if lote.Status == domain.LoteLaudoEmitido {
			evt, err := s.applyLoteTransition(ctx, tx, c, lote, domain.LoteFinalizado, false)
			if err != nil {
				return err
			}
			published = append(published, evt)
		}

		if _, err := tx.Notifier().Notify(ctx, ports.NotificationRequest{
			Tipo:             NotifLaudoEnviado,
			Prioridade:       notifPrioridadeAlta,
			DestinatarioCPF:  lote.LiberadoPor,
			DestinatarioTipo: notifDestinatarioGestor,
			Titulo:           fmt.Sprintf("Laudo do lote %s disponível", lote.Codigo),
			Mensagem:         fmt.Sprintf("O laudo do lote %s foi emitido e enviado.", lote.Codigo),
			Contexto:         map[string]any{notifContextLoteID: loteID, "codigo": lote.Codigo},
		}); err != nil {
			return err
		}
		if err := record(ctx, tx, c, audit.ActionLaudoEnviado, audit.ResourceLaudo, loteID,
			fmt.Sprintf("laudo do lote %s enviado", lote.Codigo), nil,
		); err != nil {
			return err
		}
		s.logTransition("laudo", loteID, string(laudo.Status), string(domain.LaudoEnviado), c.ActorCPF)

		laudo.Status = domain.LaudoEnviado
		laudo.EnviadoEm = &now
		result = laudo
		published = append(published, events.LaudoEnviado{
			BaseEvent:     events.NewBaseEventAt(s.now()),
			LoteID:        loteID,
			Codigo:        lote.Codigo,
			RecipientCPF:  lote.LiberadoPor,
			ContratanteID: lote.Scope.ContratanteID,
		})
		return nil
	})
	if err != nil {
		return domain.Laudo{}, s.fail(ctx, opMarkLaudoSent, err)
	}

	s.publish(ctx, published...)
	return result, nil
}

func (s *Service) readLaudo(ctx context.Context, c caller.Context, loteID int64) (domain.Laudo, error) {
	_, laudo, err := s.readLoteLaudo(ctx, c, loteID)
	return laudo, err
}

func (s *Service) readLoteLaudo(ctx context.Context, c caller.Context, loteID int64) (domain.Lote, domain.Laudo, error) {
	var lote domain.Lote
	var laudo domain.Laudo
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		lote, err = tx.Lotes().Get(ctx, loteID)
		if err != nil {
			return err
		}
		if !c.CanAccess(lote.Scope) {
			return apperr.NotFound("laudo não encontrado")
		}
		laudo, err = tx.Laudos().Get(ctx, loteID)
		return err
	})
	return lote, laudo, err
}
