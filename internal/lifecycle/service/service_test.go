package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/events"
	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
)

const (
	cpfA = "00000000001"
	cpfB = "00000000002"
	cpfC = "00000000003"

	motivoCurto  = "funcionário desligado da empresa"
	motivoLongo  = "funcionário afastado por licença médica prolongada conforme atestado anexado ao prontuário"
	reportV1Hash = "cf7ffa9a57f2323fad49a3207ba32fda31f1f4c3339abe23c84ce9f8339c54e9"
)

var (
	entidade      = caller.EntidadeScope(7)
	outraEntidade = caller.EntidadeScope(8)
	gestor        = caller.Context{ActorCPF: "11111111111", Role: caller.RoleGestor, Scope: entidade}
	emissor       = caller.Context{ActorCPF: "12345678900", Role: caller.RoleEmissor}
	admin         = caller.Context{ActorCPF: "99999999999", Role: caller.RoleAdmin}
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.EventName() == name {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T) (*Service, *memStore, *recordingBus) {
	t.Helper()
	store := newMemStore()
	bus := &recordingBus{}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	svc := New(store, nil, WithEventBus(bus), WithClock(func() time.Time { return now }))
	return svc, store, bus
}

func funcionario(cpf string) caller.Context {
	return caller.Context{ActorCPF: cpf, Role: caller.RoleFuncionario, Scope: entidade}
}

func createActiveLote(t *testing.T, svc *Service, store *memStore, cpfs ...string) LoteDetail {
	t.Helper()
	for _, cpf := range cpfs {
		store.addFuncionario(cpf, entidade)
	}
	detail, err := svc.CreateLote(context.Background(), gestor, CreateLoteInput{
		Tipo:            domain.LoteTipoCompleto,
		FuncionarioCPFs: cpfs,
		Liberar:         true,
	})
	if err != nil {
		t.Fatalf("create lote: %v", err)
	}
	return detail
}

func avaliacoesOf(store *memStore, loteID int64) []domain.Avaliacao {
	var out []domain.Avaliacao
	for _, av := range store.snapshot().avaliacoes {
		if av.LoteID == loteID {
			out = append(out, av)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func completeAll(t *testing.T, svc *Service, store *memStore, loteID int64) {
	t.Helper()
	for _, av := range avaliacoesOf(store, loteID) {
		if av.Status.IsTerminal() {
			continue
		}
		if _, err := svc.CompleteAvaliacao(context.Background(), funcionario(av.FuncionarioCPF), av.ID); err != nil {
			t.Fatalf("complete avaliacao %d: %v", av.ID, err)
		}
	}
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", kind.Code())
	}
	if got := apperr.GetKind(err); got != kind {
		t.Fatalf("expected %s, got %s (%v)", kind.Code(), got.Code(), err)
	}
}

func TestLoteAutoCompletesWhenLastAssessmentIsInactivated(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	lote := createActiveLote(t, svc, store, cpfA, cpfB, cpfC)
	avs := avaliacoesOf(store, lote.Lote.ID)

	for _, av := range avs[:2] {
		res, err := svc.CompleteAvaliacao(ctx, funcionario(av.FuncionarioCPF), av.ID)
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if res.Lote.Status != domain.LoteAtivo {
			t.Fatalf("expected lote to stay ativo, got %s", res.Lote.Status)
		}
	}

	res, err := svc.InactivateAvaliacao(ctx, gestor, avs[2].ID, motivoCurto, false)
	if err != nil {
		t.Fatalf("inactivate: %v", err)
	}
	if res.Lote.Status != domain.LoteConcluido || !res.Lote.AutoCompleted {
		t.Fatalf("expected auto-completed lote, got %+v", res.Lote)
	}

	st := store.snapshot()
	if st.lotes[lote.Lote.ID].Status != domain.LoteConcluido {
		t.Fatalf("stored lote status %s", st.lotes[lote.Lote.ID].Status)
	}
	notifs := st.notificationsOf(NotifLoteConcluido)
	if len(notifs) != 1 || notifs[0].Request.DestinatarioCPF != gestor.ActorCPF {
		t.Fatalf("expected one completion notification for the releaser, got %+v", notifs)
	}
	if st.auditCount(audit.ActionLoteRecalculado) != 1 {
		t.Fatalf("expected one recompute audit entry")
	}
}

func TestLoteIsCancelledWhenEveryAssessmentIsInactivated(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	lote := createActiveLote(t, svc, store, cpfA, cpfB)
	avs := avaliacoesOf(store, lote.Lote.ID)

	if _, err := svc.InactivateAvaliacao(ctx, gestor, avs[0].ID, motivoCurto, false); err != nil {
		t.Fatalf("inactivate first: %v", err)
	}
	res, err := svc.InactivateAvaliacao(ctx, gestor, avs[1].ID, motivoCurto, false)
	if err != nil {
		t.Fatalf("inactivate second: %v", err)
	}
	if res.Lote.Status != domain.LoteCancelado || !res.Lote.AutoCancelled {
		t.Fatalf("expected auto-cancelled lote, got %+v", res.Lote)
	}
}

func TestInactivationRequiresJustification(t *testing.T) {
	svc, store, _ := newTestService(t)
	lote := createActiveLote(t, svc, store, cpfA)
	avs := avaliacoesOf(store, lote.Lote.ID)

	_, err := svc.InactivateAvaliacao(context.Background(), gestor, avs[0].ID, "  curto  ", false)
	requireKind(t, err, apperr.KindValidation)
}

func TestFuncionarioCannotAdvanceSomeoneElsesAssessment(t *testing.T) {
	svc, store, _ := newTestService(t)
	lote := createActiveLote(t, svc, store, cpfA, cpfB)
	avs := avaliacoesOf(store, lote.Lote.ID)

	_, err := svc.CompleteAvaliacao(context.Background(), funcionario(cpfB), avs[0].ID)
	requireKind(t, err, apperr.KindNotFound)
}

func TestEmitLaudoFreezesLoteAndIsIdempotent(t *testing.T) {
	svc, store, bus := newTestService(t)
	ctx := context.Background()
	lote := createActiveLote(t, svc, store, cpfA, cpfB)
	completeAll(t, svc, store, lote.Lote.ID)

	if _, err := svc.RequestEmission(ctx, gestor, lote.Lote.ID); err != nil {
		t.Fatalf("request emission: %v", err)
	}
	if _, ok := store.snapshot().queue[lote.Lote.ID]; !ok {
		t.Fatalf("expected emission request after solicitation")
	}

	laudo, err := svc.EmitLaudo(ctx, emissor, lote.Lote.ID, []byte("report-v1"))
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if laudo.HashPDF == nil || *laudo.HashPDF != reportV1Hash {
		t.Fatalf("unexpected hash %v", laudo.HashPDF)
	}
	if laudo.EmissorCPF == nil || *laudo.EmissorCPF != emissor.ActorCPF {
		t.Fatalf("unexpected emissor %v", laudo.EmissorCPF)
	}

	st := store.snapshot()
	stored := st.lotes[lote.Lote.ID]
	if stored.Status != domain.LoteLaudoEmitido || stored.EmitidoEm == nil {
		t.Fatalf("expected frozen lote, got %+v", stored)
	}
	if stored.HashLaudo == nil || *stored.HashLaudo != reportV1Hash {
		t.Fatalf("lote hash not recorded")
	}
	if _, ok := st.queue[lote.Lote.ID]; ok {
		t.Fatalf("emission request must be removed after emission")
	}
	for _, n := range st.notifications {
		if !n.Resolved {
			t.Fatalf("expected lote notifications resolved after emission, found %s open", n.Request.Tipo)
		}
	}

	again, err := svc.EmitLaudo(ctx, emissor, lote.Lote.ID, []byte("report-v2"))
	if err != nil {
		t.Fatalf("second emit: %v", err)
	}
	if *again.HashPDF != reportV1Hash || !again.EmitidoEm.Equal(*laudo.EmitidoEm) {
		t.Fatalf("second emission must return the stored laudo")
	}
	if n := store.snapshot().auditCount(audit.ActionLaudoEmitido); n != 1 {
		t.Fatalf("expected one emission audit entry, got %d", n)
	}
	if n := bus.count(events.LaudoEmitido{}.EventName()); n != 1 {
		t.Fatalf("expected one emission event, got %d", n)
	}

	ok, err := svc.VerifyIntegrity(ctx, emissor, lote.Lote.ID, []byte("report-v1"))
	if err != nil || !ok {
		t.Fatalf("expected original bytes to verify, got %v %v", ok, err)
	}
	ok, err = svc.VerifyIntegrity(ctx, emissor, lote.Lote.ID, []byte("report-v2"))
	if err != nil || ok {
		t.Fatalf("expected altered bytes to fail verification, got %v %v", ok, err)
	}
}

func TestEmitLaudoFromConcluidoWalksEmissionStates(t *testing.T) {
	svc, store, _ := newTestService(t)
	lote := createActiveLote(t, svc, store, cpfA)
	completeAll(t, svc, store, lote.Lote.ID)

	if _, err := svc.EmitLaudo(context.Background(), emissor, lote.Lote.ID, []byte("report-v1")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	st := store.snapshot()
	if st.lotes[lote.Lote.ID].Status != domain.LoteLaudoEmitido {
		t.Fatalf("unexpected lote status %s", st.lotes[lote.Lote.ID].Status)
	}
	if st.auditCount(audit.ActionEmissaoSolicitada) != 1 {
		t.Fatalf("expected the emission request step to be audited")
	}
	if len(st.queue) != 0 {
		t.Fatalf("queue must be empty after emission")
	}
}

func TestEmitLaudoRejectsActiveLoteAndNonEmissor(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	lote := createActiveLote(t, svc, store, cpfA)

	_, err := svc.EmitLaudo(ctx, gestor, lote.Lote.ID, []byte("report-v1"))
	requireKind(t, err, apperr.KindForbidden)

	_, err = svc.EmitLaudo(ctx, emissor, lote.Lote.ID, []byte("report-v1"))
	requireKind(t, err, apperr.KindIllegalTransition)
	if store.snapshot().laudos[lote.Lote.ID].Status != domain.LaudoRascunho {
		t.Fatalf("failed emission must not touch the laudo")
	}
}

func TestMutationsAfterEmissionAreRejected(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	lote := createActiveLote(t, svc, store, cpfA, cpfB)
	avs := avaliacoesOf(store, lote.Lote.ID)
	completeAll(t, svc, store, lote.Lote.ID)
	if _, err := svc.EmitLaudo(ctx, emissor, lote.Lote.ID, []byte("report-v1")); err != nil {
		t.Fatalf("emit: %v", err)
	}

	_, err := svc.InactivateAvaliacao(ctx, gestor, avs[0].ID, motivoCurto, false)
	requireKind(t, err, apperr.KindImmutableAfterEmission)

	_, err = svc.InactivateAvaliacao(ctx, admin, avs[0].ID, motivoLongo, true)
	requireKind(t, err, apperr.KindImmutableAfterEmission)

	_, err = svc.MarkLaudoError(ctx, emissor, lote.Lote.ID, "falha no gerador")
	requireKind(t, err, apperr.KindImmutableAfterEmission)

	_, err = svc.RequestEmission(ctx, gestor, lote.Lote.ID)
	requireKind(t, err, apperr.KindIllegalTransition)

	eligibility, err := svc.CheckInactivationEligibility(ctx, gestor, avs[0].ID)
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if eligibility.Permitted {
		t.Fatalf("emitted lote must not allow inactivation")
	}

	st := store.snapshot()
	if *st.laudos[lote.Lote.ID].HashPDF != reportV1Hash {
		t.Fatalf("emitted hash changed")
	}
}

func TestConsecutiveInactivationGuard(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	first := createActiveLote(t, svc, store, cpfA, cpfB)
	firstAvs := avaliacoesOf(store, first.Lote.ID)
	res, err := svc.InactivateAvaliacao(ctx, gestor, firstAvs[0].ID, motivoCurto, false)
	if err != nil {
		t.Fatalf("first inactivation: %v", err)
	}
	if res.Guard.Reason != domain.ReasonNoHistory {
		t.Fatalf("unexpected guard reason %q", res.Guard.Reason)
	}

	second := createActiveLote(t, svc, store, cpfA)
	if second.Lote.NumeroOrdem != first.Lote.NumeroOrdem+1 {
		t.Fatalf("expected consecutive ordinals, got %d and %d", first.Lote.NumeroOrdem, second.Lote.NumeroOrdem)
	}
	target := avaliacoesOf(store, second.Lote.ID)[0]

	_, err = svc.InactivateAvaliacao(ctx, gestor, target.ID, motivoCurto, false)
	requireKind(t, err, apperr.KindConsecutiveInactivationBlocked)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected apperr.Error")
	}
	blocked, ok := appErr.Details.(BlockedInactivation)
	if !ok {
		t.Fatalf("expected BlockedInactivation details, got %T", appErr.Details)
	}
	if blocked.ConsecutiveCount != 1 || !blocked.CanForce {
		t.Fatalf("unexpected guard details %+v", blocked.GuardResult)
	}
	if blocked.LastInactivatedLoteID == nil || *blocked.LastInactivatedLoteID != first.Lote.ID {
		t.Fatalf("expected last inactivated lote %d", first.Lote.ID)
	}

	eligibility, err := svc.CheckInactivationEligibility(ctx, gestor, target.ID)
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if eligibility.Permitted || !eligibility.CanForce {
		t.Fatalf("expected blocked but forceable, got %+v", eligibility)
	}

	_, err = svc.InactivateAvaliacao(ctx, gestor, target.ID, motivoCurto, true)
	requireKind(t, err, apperr.KindValidation)

	forced, err := svc.InactivateAvaliacao(ctx, gestor, target.ID, motivoLongo, true)
	if err != nil {
		t.Fatalf("forced inactivation: %v", err)
	}
	if !forced.Forced || forced.Lote.Status != domain.LoteCancelado {
		t.Fatalf("unexpected forced result %+v", forced)
	}

	st := store.snapshot()
	if st.auditCount(audit.ActionInativacaoForcada) != 1 || st.auditCount(audit.ActionInativacaoNormal) != 1 {
		t.Fatalf("expected one normal and one forced inactivation audit entry")
	}
}

func TestConcurrentInactivationHasExactlyOneWinner(t *testing.T) {
	svc, store, _ := newTestService(t)
	lote := createActiveLote(t, svc, store, cpfA, cpfB, cpfC)
	target := avaliacoesOf(store, lote.Lote.ID)[0]

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.InactivateAvaliacao(context.Background(), gestor, target.ID, motivoCurto, false)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case apperr.Is(err, apperr.KindAlreadyProcessed):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one success, got %d", wins)
	}
	if n := store.snapshot().auditCount(audit.ActionInativacaoNormal); n != 1 {
		t.Fatalf("expected one audit entry, got %d", n)
	}
}

func TestConcurrentEmissionStoresOneHash(t *testing.T) {
	svc, store, _ := newTestService(t)
	lote := createActiveLote(t, svc, store, cpfA)
	completeAll(t, svc, store, lote.Lote.ID)

	var wg sync.WaitGroup
	hashes := make([]string, 4)
	for i := range hashes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			laudo, err := svc.EmitLaudo(context.Background(), emissor, lote.Lote.ID, []byte("report-v1"))
			if err == nil && laudo.HashPDF != nil {
				hashes[i] = *laudo.HashPDF
			}
		}(i)
	}
	wg.Wait()

	for i, h := range hashes {
		if h != reportV1Hash {
			t.Fatalf("call %d returned %q", i, h)
		}
	}
	if n := store.snapshot().auditCount(audit.ActionLaudoEmitido); n != 1 {
		t.Fatalf("expected one emission, got %d", n)
	}
}

func TestFailedAuditRollsBackInactivation(t *testing.T) {
	svc, store, _ := newTestService(t)
	lote := createActiveLote(t, svc, store, cpfA)
	target := avaliacoesOf(store, lote.Lote.ID)[0]
	store.setAuditFailure(errAuditDown)

	_, err := svc.InactivateAvaliacao(context.Background(), gestor, target.ID, motivoCurto, false)
	requireKind(t, err, apperr.KindInternal)

	st := store.snapshot()
	if st.avaliacoes[target.ID].Status != domain.AvaliacaoIniciada {
		t.Fatalf("inactivation must roll back, got %s", st.avaliacoes[target.ID].Status)
	}
	if st.lotes[lote.Lote.ID].Status != domain.LoteAtivo {
		t.Fatalf("lote must be untouched")
	}
}

func TestEmissionQueueFollowsLoteStatus(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	lote := createActiveLote(t, svc, store, cpfA)
	completeAll(t, svc, store, lote.Lote.ID)
	id := lote.Lote.ID

	assertQueue := func(step string) {
		t.Helper()
		st := store.snapshot()
		_, queued := st.queue[id]
		if queued != st.lotes[id].Status.InEmissionPipeline() {
			t.Fatalf("%s: queue=%v with lote status %s", step, queued, st.lotes[id].Status)
		}
	}

	if _, err := svc.RequestEmission(ctx, gestor, id); err != nil {
		t.Fatalf("request: %v", err)
	}
	assertQueue("solicitada")

	if _, err := svc.TransitionLote(ctx, admin, id, domain.LoteEmissaoEmAndamento); err != nil {
		t.Fatalf("em andamento: %v", err)
	}
	assertQueue("em andamento")

	if _, err := svc.TransitionLote(ctx, admin, id, domain.LoteEmissaoSolicitada); err != nil {
		t.Fatalf("back to solicitada: %v", err)
	}
	assertQueue("back to solicitada")

	if _, err := svc.TransitionLote(ctx, gestor, id, domain.LoteConcluido); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertQueue("withdrawn")

	if _, err := svc.RequestEmission(ctx, gestor, id); err != nil {
		t.Fatalf("request again: %v", err)
	}
	if _, err := svc.TransitionLote(ctx, gestor, id, domain.LoteCancelado); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	assertQueue("cancelled")
}

func TestExplicitTransitionsFollowTable(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	store.addFuncionario(cpfA, entidade)
	draft, err := svc.CreateLote(ctx, gestor, CreateLoteInput{Tipo: domain.LoteTipoOperacional, FuncionarioCPFs: []string{cpfA}})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if draft.Lote.Status != domain.LoteRascunho {
		t.Fatalf("expected rascunho, got %s", draft.Lote.Status)
	}

	_, err = svc.TransitionLote(ctx, gestor, draft.Lote.ID, domain.LoteConcluido)
	requireKind(t, err, apperr.KindIllegalTransition)

	if _, err := svc.TransitionLote(ctx, gestor, draft.Lote.ID, domain.LoteAtivo); err != nil {
		t.Fatalf("release: %v", err)
	}
	for _, av := range avaliacoesOf(store, draft.Lote.ID) {
		if av.Status != domain.AvaliacaoIniciada {
			t.Fatalf("expected released assessment, got %s", av.Status)
		}
	}

	completeAll(t, svc, store, draft.Lote.ID)
	if _, err := svc.TransitionLote(ctx, admin, draft.Lote.ID, domain.LoteEmissaoSolicitada); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.TransitionLote(ctx, admin, draft.Lote.ID, domain.LoteEmissaoEmAndamento); err != nil {
		t.Fatalf("em andamento: %v", err)
	}
	_, err = svc.TransitionLote(ctx, admin, draft.Lote.ID, domain.LoteLaudoEmitido)
	requireKind(t, err, apperr.KindIllegalTransition)

	recomputed, err := svc.RecomputeLote(ctx, admin, draft.Lote.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if recomputed.Status != domain.LoteEmissaoEmAndamento {
		t.Fatalf("recompute must not regress the lote, got %s", recomputed.Status)
	}
}

func TestScopeIsolation(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	lote := createActiveLote(t, svc, store, cpfA)
	target := avaliacoesOf(store, lote.Lote.ID)[0]
	outsider := caller.Context{ActorCPF: "22222222222", Role: caller.RoleGestor, Scope: outraEntidade}

	_, err := svc.GetLote(ctx, outsider, lote.Lote.ID)
	requireKind(t, err, apperr.KindNotFound)

	_, err = svc.InactivateAvaliacao(ctx, outsider, target.ID, motivoCurto, false)
	requireKind(t, err, apperr.KindNotFound)

	_, err = svc.CheckInactivationEligibility(ctx, outsider, target.ID)
	requireKind(t, err, apperr.KindNotFound)

	store.addFuncionario(cpfB, outraEntidade)
	_, err = svc.CreateLote(ctx, gestor, CreateLoteInput{Tipo: domain.LoteTipoCompleto, FuncionarioCPFs: []string{cpfB}, Liberar: true})
	requireKind(t, err, apperr.KindValidation)
}

func TestLaudoErrorAndRetry(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	lote := createActiveLote(t, svc, store, cpfA)
	completeAll(t, svc, store, lote.Lote.ID)
	id := lote.Lote.ID

	if _, err := svc.RequestEmission(ctx, gestor, id); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.TransitionLote(ctx, emissor, id, domain.LoteEmissaoEmAndamento); err != nil {
		t.Fatalf("em andamento: %v", err)
	}

	failed, err := svc.MarkLaudoError(ctx, emissor, id, "falha no gerador de pdf")
	if err != nil {
		t.Fatalf("mark error: %v", err)
	}
	if failed.Status != domain.LaudoErro {
		t.Fatalf("expected erro, got %s", failed.Status)
	}
	if got := store.snapshot().lotes[id].Status; got != domain.LoteEmissaoSolicitada {
		t.Fatalf("expected lote back to emissao_solicitada, got %s", got)
	}

	_, err = svc.EmitLaudo(ctx, emissor, id, []byte("report-v1"))
	requireKind(t, err, apperr.KindIllegalTransition)

	retried, err := svc.RetryLaudo(ctx, emissor, id)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != domain.LaudoRascunho || retried.Tentativas != 1 {
		t.Fatalf("unexpected retried laudo %+v", retried)
	}

	if _, err := svc.EmitLaudo(ctx, emissor, id, []byte("report-v1")); err != nil {
		t.Fatalf("emit after retry: %v", err)
	}
}

func TestMarkLaudoSentFinalizesLote(t *testing.T) {
	svc, store, bus := newTestService(t)
	ctx := context.Background()
	lote := createActiveLote(t, svc, store, cpfA)
	completeAll(t, svc, store, lote.Lote.ID)
	id := lote.Lote.ID
	if _, err := svc.EmitLaudo(ctx, emissor, id, []byte("report-v1")); err != nil {
		t.Fatalf("emit: %v", err)
	}

	sent, err := svc.MarkLaudoSent(ctx, emissor, id)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.Status != domain.LaudoEnviado || sent.EnviadoEm == nil {
		t.Fatalf("unexpected laudo %+v", sent)
	}
	if *sent.HashPDF != reportV1Hash {
		t.Fatalf("delivery must not change the hash")
	}

	st := store.snapshot()
	if st.lotes[id].Status != domain.LoteFinalizado {
		t.Fatalf("expected finalizado, got %s", st.lotes[id].Status)
	}
	notifs := st.notificationsOf(NotifLaudoEnviado)
	if len(notifs) != 1 || notifs[0].Request.DestinatarioCPF != gestor.ActorCPF {
		t.Fatalf("expected delivery notification for the releaser, got %+v", notifs)
	}
	if bus.count(events.LaudoEnviado{}.EventName()) != 1 {
		t.Fatalf("expected one delivery event")
	}

	_, err = svc.MarkLaudoSent(ctx, emissor, id)
	requireKind(t, err, apperr.KindAlreadyProcessed)
}

func TestFuncionarioCannotManageLotesOrLaudos(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	lote := createActiveLote(t, svc, store, cpfA)
	id := lote.Lote.ID
	actor := funcionario(cpfA)

	_, err := svc.CreateLote(ctx, actor, CreateLoteInput{Tipo: domain.LoteTipoCompleto, FuncionarioCPFs: []string{cpfA}, Liberar: true})
	requireKind(t, err, apperr.KindForbidden)

	_, err = svc.TransitionLote(ctx, actor, id, domain.LoteCancelado)
	requireKind(t, err, apperr.KindForbidden)

	_, err = svc.RequestEmission(ctx, actor, id)
	requireKind(t, err, apperr.KindForbidden)

	_, err = svc.RecomputeLote(ctx, actor, id)
	requireKind(t, err, apperr.KindForbidden)

	_, err = svc.MarkLaudoError(ctx, actor, id, "falha no gerador de pdf")
	requireKind(t, err, apperr.KindForbidden)

	_, err = svc.RetryLaudo(ctx, actor, id)
	requireKind(t, err, apperr.KindForbidden)

	_, err = svc.MarkLaudoSent(ctx, actor, id)
	requireKind(t, err, apperr.KindForbidden)

	_, err = svc.MarkLaudoSent(ctx, gestor, id)
	requireKind(t, err, apperr.KindForbidden)

	st := store.snapshot()
	if len(st.lotes) != 1 || st.lotes[id].Status != domain.LoteAtivo {
		t.Fatalf("rejected calls must not change lotes, got %+v", st.lotes)
	}
}

func TestInactivateFirstThenCompleteRest(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	lote := createActiveLote(t, svc, store, cpfA, cpfB, cpfC)
	avs := avaliacoesOf(store, lote.Lote.ID)

	inactivated, err := svc.InactivateAvaliacao(ctx, gestor, avs[0].ID, "sem motivo aparente", false)
	if err != nil {
		t.Fatalf("inactivate #1: %v", err)
	}
	if inactivated.Forced || inactivated.Lote.Status != domain.LoteAtivo {
		t.Fatalf("expected unforced inactivation with lote ativo, got %+v", inactivated)
	}

	second, err := svc.CompleteAvaliacao(ctx, funcionario(cpfB), avs[1].ID)
	if err != nil {
		t.Fatalf("complete #2: %v", err)
	}
	if second.Lote.Status != domain.LoteAtivo {
		t.Fatalf("expected lote ativo after #2, got %s", second.Lote.Status)
	}

	third, err := svc.CompleteAvaliacao(ctx, funcionario(cpfC), avs[2].ID)
	if err != nil {
		t.Fatalf("complete #3: %v", err)
	}
	if third.Lote.Status != domain.LoteConcluido || !third.Lote.AutoCompleted {
		t.Fatalf("expected lote auto-completed, got %+v", third.Lote)
	}
	if got := store.snapshot().lotes[lote.Lote.ID].Status; got != domain.LoteConcluido {
		t.Fatalf("stored lote status %s", got)
	}
}
