package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/lifecycle/ports"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"

	"github.com/google/uuid"
)

// memStore serializes transactions behind one mutex, which is how row locks
// behave for the operations under test. Writes commit only when fn succeeds.
type memStore struct {
	mu    sync.Mutex
	state *memState
}

type memNotification struct {
	ID       uuid.UUID
	Request  ports.NotificationRequest
	Resolved bool
}

type memState struct {
	lotes         map[int64]domain.Lote
	avaliacoes    map[int64]domain.Avaliacao
	laudos        map[int64]domain.Laudo
	queue         map[int64]domain.EmissionRequest
	funcionarios  map[string]caller.Scope
	audit         []audit.Entry
	notifications []memNotification
	nextLote      int64
	nextAvaliacao int64
	failAudit     error
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		lotes:        map[int64]domain.Lote{},
		avaliacoes:   map[int64]domain.Avaliacao{},
		laudos:       map[int64]domain.Laudo{},
		queue:        map[int64]domain.EmissionRequest{},
		funcionarios: map[string]caller.Scope{},
	}}
}

func (s *memState) clone() *memState {
	c := *s
	c.lotes = make(map[int64]domain.Lote, len(s.lotes))
	for k, v := range s.lotes {
		c.lotes[k] = v
	}
	c.avaliacoes = make(map[int64]domain.Avaliacao, len(s.avaliacoes))
	for k, v := range s.avaliacoes {
		c.avaliacoes[k] = v
	}
	c.laudos = make(map[int64]domain.Laudo, len(s.laudos))
	for k, v := range s.laudos {
		c.laudos[k] = v
	}
	c.queue = make(map[int64]domain.EmissionRequest, len(s.queue))
	for k, v := range s.queue {
		c.queue[k] = v
	}
	c.funcionarios = make(map[string]caller.Scope, len(s.funcionarios))
	for k, v := range s.funcionarios {
		c.funcionarios[k] = v
	}
	c.audit = append([]audit.Entry(nil), s.audit...)
	c.notifications = append([]memNotification(nil), s.notifications...)
	return &c
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) addFuncionario(cpf string, scope caller.Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.funcionarios[cpf] = scope
}

func (m *memStore) setAuditFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.failAudit = err
}

func (s *memState) auditCount(action string) int {
	n := 0
	for _, e := range s.audit {
		if e.Action == action {
			n++
		}
	}
	return n
}

func (s *memState) notificationsOf(tipo string) []memNotification {
	var out []memNotification
	for _, n := range s.notifications {
		if n.Request.Tipo == tipo {
			out = append(out, n)
		}
	}
	return out
}

type memTx struct{ st *memState }

func (t *memTx) Lotes() ports.LoteRepository           { return memLotes{t.st} }
func (t *memTx) Avaliacoes() ports.AvaliacaoRepository { return memAvaliacoes{t.st} }
func (t *memTx) Laudos() ports.LaudoRepository         { return memLaudos{t.st} }
func (t *memTx) EmissionQueue() ports.EmissionQueue    { return memQueue{t.st} }
func (t *memTx) Funcionarios() ports.FuncionarioReader { return memFuncionarios{t.st} }
func (t *memTx) Audit() ports.AuditRecorder            { return memAudit{t.st} }
func (t *memTx) Notifier() ports.Notifier              { return memNotifier{t.st} }

type memLotes struct{ st *memState }

func (r memLotes) LockScope(context.Context, caller.Scope) error { return nil }

func (r memLotes) NextNumeroOrdem(_ context.Context, scope caller.Scope) (int, error) {
	max := 0
	for _, l := range r.st.lotes {
		if l.Scope.Equal(scope) && l.NumeroOrdem > max {
			max = l.NumeroOrdem
		}
	}
	return max + 1, nil
}

func (r memLotes) Create(_ context.Context, p ports.CreateLoteParams) (domain.Lote, error) {
	r.st.nextLote++
	lote := domain.Lote{
		ID:          r.st.nextLote,
		Codigo:      p.Codigo,
		Tipo:        p.Tipo,
		Status:      p.Status,
		Scope:       p.Scope,
		NumeroOrdem: p.NumeroOrdem,
		LiberadoPor: p.LiberadoPor,
		LiberadoEm:  p.LiberadoEm,
	}
	r.st.lotes[lote.ID] = lote
	return lote, nil
}

func (r memLotes) Get(_ context.Context, id int64) (domain.Lote, error) {
	l, ok := r.st.lotes[id]
	if !ok {
		return domain.Lote{}, apperr.NotFound("lote não encontrado")
	}
	return l, nil
}

func (r memLotes) GetForUpdate(ctx context.Context, id int64) (domain.Lote, error) {
	return r.Get(ctx, id)
}

func (r memLotes) LockAggregate(context.Context, int64) error { return nil }

func (r memLotes) UpdateStatus(_ context.Context, id int64, from, to domain.LoteStatus, at time.Time) (bool, error) {
	l, ok := r.st.lotes[id]
	if !ok || l.Status != from {
		return false, nil
	}
	l.Status = to
	if to == domain.LoteAtivo && l.LiberadoEm == nil {
		l.LiberadoEm = &at
	}
	l.AtualizadoEm = at
	r.st.lotes[id] = l
	return true, nil
}

func (r memLotes) MarkEmitted(_ context.Context, id int64, hash string, at time.Time) (bool, error) {
	l, ok := r.st.lotes[id]
	if !ok || l.EmitidoEm != nil || l.Status != domain.LoteEmissaoEmAndamento {
		return false, nil
	}
	l.Status = domain.LoteLaudoEmitido
	l.EmitidoEm = &at
	l.HashLaudo = &hash
	r.st.lotes[id] = l
	return true, nil
}

type memAvaliacoes struct{ st *memState }

func (r memAvaliacoes) CreateBatch(_ context.Context, loteID int64, cpfs []string, status domain.AvaliacaoStatus, at time.Time) ([]domain.Avaliacao, error) {
	out := make([]domain.Avaliacao, 0, len(cpfs))
	for _, cpf := range cpfs {
		r.st.nextAvaliacao++
		av := domain.Avaliacao{ID: r.st.nextAvaliacao, LoteID: loteID, FuncionarioCPF: cpf, Status: status, CriadoEm: at}
		if status == domain.AvaliacaoIniciada {
			av.IniciadaEm = &at
		}
		r.st.avaliacoes[av.ID] = av
		out = append(out, av)
	}
	return out, nil
}

func (r memAvaliacoes) Get(_ context.Context, id int64) (domain.Avaliacao, error) {
	av, ok := r.st.avaliacoes[id]
	if !ok {
		return domain.Avaliacao{}, apperr.NotFound("avaliação não encontrada")
	}
	return av, nil
}

func (r memAvaliacoes) GetForUpdate(ctx context.Context, id int64) (domain.Avaliacao, error) {
	return r.Get(ctx, id)
}

func (r memAvaliacoes) Inactivate(_ context.Context, id int64, motivo string, at time.Time) (bool, error) {
	av, ok := r.st.avaliacoes[id]
	if !ok || av.Status.IsTerminal() {
		return false, nil
	}
	av.Status = domain.AvaliacaoInativada
	av.MotivoInativacao = &motivo
	av.InativadaEm = &at
	r.st.avaliacoes[id] = av
	return true, nil
}

func (r memAvaliacoes) UpdateStatus(_ context.Context, id int64, from, to domain.AvaliacaoStatus, at time.Time) (bool, error) {
	av, ok := r.st.avaliacoes[id]
	if !ok || av.Status != from {
		return false, nil
	}
	av.Status = to
	switch to {
	case domain.AvaliacaoIniciada:
		av.IniciadaEm = &at
	case domain.AvaliacaoConcluida:
		av.ConcluidaEm = &at
	}
	r.st.avaliacoes[id] = av
	return true, nil
}

func (r memAvaliacoes) ReleaseDrafts(_ context.Context, loteID int64, at time.Time) (int, error) {
	n := 0
	for id, av := range r.st.avaliacoes {
		if av.LoteID == loteID && av.Status == domain.AvaliacaoRascunho {
			av.Status = domain.AvaliacaoIniciada
			av.IniciadaEm = &at
			r.st.avaliacoes[id] = av
			n++
		}
	}
	return n, nil
}

func (r memAvaliacoes) StatusesByLote(_ context.Context, loteID int64) ([]domain.AvaliacaoStatus, error) {
	var out []domain.AvaliacaoStatus
	for _, av := range r.st.avaliacoes {
		if av.LoteID == loteID {
			out = append(out, av.Status)
		}
	}
	return out, nil
}

func (r memAvaliacoes) PriorInScope(_ context.Context, cpf string, scope caller.Scope, beforeOrdem int) ([]domain.PriorAssessment, error) {
	var out []domain.PriorAssessment
	for _, av := range r.st.avaliacoes {
		if av.FuncionarioCPF != cpf {
			continue
		}
		lote := r.st.lotes[av.LoteID]
		if !lote.Scope.Equal(scope) || lote.NumeroOrdem >= beforeOrdem {
			continue
		}
		out = append(out, domain.PriorAssessment{
			AvaliacaoID: av.ID, LoteID: lote.ID, LoteCodigo: lote.Codigo,
			NumeroOrdem: lote.NumeroOrdem, Status: av.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NumeroOrdem > out[j].NumeroOrdem })
	return out, nil
}

type memLaudos struct{ st *memState }

func (r memLaudos) Reserve(_ context.Context, loteID int64) (domain.Laudo, error) {
	if _, ok := r.st.laudos[loteID]; ok {
		return domain.Laudo{}, apperr.Conflict("laudo já reservado")
	}
	laudo := domain.Laudo{ID: loteID, Status: domain.LaudoRascunho}
	r.st.laudos[loteID] = laudo
	return laudo, nil
}

func (r memLaudos) Get(_ context.Context, id int64) (domain.Laudo, error) {
	l, ok := r.st.laudos[id]
	if !ok {
		return domain.Laudo{}, apperr.NotFound("laudo não encontrado")
	}
	return l, nil
}

func (r memLaudos) GetForUpdate(ctx context.Context, id int64) (domain.Laudo, error) {
	return r.Get(ctx, id)
}

func (r memLaudos) MarkEmitted(_ context.Context, p ports.EmitLaudoParams) (bool, error) {
	l, ok := r.st.laudos[p.ID]
	if !ok || l.Status != domain.LaudoRascunho {
		return false, nil
	}
	emissor, hash, at := p.EmissorCPF, p.Hash, p.At
	l.Status = domain.LaudoEmitido
	l.EmissorCPF = &emissor
	l.HashPDF = &hash
	l.EmitidoEm = &at
	l.ArquivoKey = p.ArquivoKey
	r.st.laudos[p.ID] = l
	return true, nil
}

func (r memLaudos) MarkError(_ context.Context, id int64, cause string) (bool, error) {
	l, ok := r.st.laudos[id]
	if !ok || l.Status != domain.LaudoRascunho {
		return false, nil
	}
	l.Status = domain.LaudoErro
	l.UltimoErro = &cause
	r.st.laudos[id] = l
	return true, nil
}

func (r memLaudos) Retry(_ context.Context, id int64) (bool, error) {
	l, ok := r.st.laudos[id]
	if !ok || l.Status != domain.LaudoErro {
		return false, nil
	}
	l.Status = domain.LaudoRascunho
	l.Tentativas++
	r.st.laudos[id] = l
	return true, nil
}

func (r memLaudos) MarkSent(_ context.Context, id int64, at time.Time) (bool, error) {
	l, ok := r.st.laudos[id]
	if !ok || l.Status != domain.LaudoEmitido {
		return false, nil
	}
	l.Status = domain.LaudoEnviado
	l.EnviadoEm = &at
	r.st.laudos[id] = l
	return true, nil
}

type memQueue struct{ st *memState }

func (q memQueue) Enqueue(_ context.Context, loteID int64, actorCPF string, at time.Time) (domain.EmissionRequest, error) {
	req, ok := q.st.queue[loteID]
	if ok {
		req.Tentativas++
	} else {
		req = domain.EmissionRequest{LoteID: loteID, SolicitadoPor: actorCPF, SolicitadoEm: at}
	}
	q.st.queue[loteID] = req
	return req, nil
}

func (q memQueue) Get(_ context.Context, loteID int64) (*domain.EmissionRequest, error) {
	req, ok := q.st.queue[loteID]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (q memQueue) Remove(_ context.Context, loteID int64) (bool, error) {
	_, ok := q.st.queue[loteID]
	delete(q.st.queue, loteID)
	return ok, nil
}

type memFuncionarios struct{ st *memState }

func (f memFuncionarios) ScopesByCPF(_ context.Context, cpfs []string) (map[string]caller.Scope, error) {
	out := make(map[string]caller.Scope, len(cpfs))
	for _, cpf := range cpfs {
		if scope, ok := f.st.funcionarios[cpf]; ok {
			out[cpf] = scope
		}
	}
	return out, nil
}

type memAudit struct{ st *memState }

func (a memAudit) Record(_ context.Context, e audit.Entry) error {
	if a.st.failAudit != nil {
		return a.st.failAudit
	}
	e.ID = uuid.New()
	a.st.audit = append(a.st.audit, e)
	return nil
}

type memNotifier struct{ st *memState }

func (n memNotifier) Notify(_ context.Context, req ports.NotificationRequest) (uuid.UUID, error) {
	key := fmt.Sprintf("%s|%v", req.Tipo, req.Contexto[notifContextLoteID])
	for _, existing := range n.st.notifications {
		if existing.Resolved {
			continue
		}
		if fmt.Sprintf("%s|%v", existing.Request.Tipo, existing.Request.Contexto[notifContextLoteID]) == key {
			return existing.ID, nil
		}
	}
	id := uuid.New()
	n.st.notifications = append(n.st.notifications, memNotification{ID: id, Request: req})
	return id, nil
}

func (n memNotifier) ResolveByContext(_ context.Context, key, value, _ string) (int, error) {
	count := 0
	for i, existing := range n.st.notifications {
		if existing.Resolved {
			continue
		}
		if fmt.Sprintf("%v", existing.Request.Contexto[key]) == value {
			n.st.notifications[i].Resolved = true
			count++
		}
	}
	return count, nil
}

var errAuditDown = errors.New("audit table unavailable")
