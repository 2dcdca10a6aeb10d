package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/billing/domain"
	"qwork_backend/internal/billing/ports"
	"qwork_backend/platform/apperr"

	"github.com/google/uuid"
)

// memStore serializes transactions behind one mutex and commits a cloned
// state only when fn succeeds.
type memStore struct {
	mu    sync.Mutex
	state *memState
}

type memNotification struct {
	ID       uuid.UUID
	Request  ports.NotificationRequest
	Resolved bool
}

type memEmail struct {
	To  string
	Msg ports.ResumptionMessage
}

type memState struct {
	accounts      map[int64]domain.Account
	payments      map[int64]domain.Payment
	receipts      map[int64][]domain.Installments
	tokens        map[string]domain.Token
	audit         []audit.Entry
	notifications []memNotification
	emails        []memEmail
	failAudit     error
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		accounts: map[int64]domain.Account{},
		payments: map[int64]domain.Payment{},
		receipts: map[int64][]domain.Installments{},
		tokens:   map[string]domain.Token{},
	}}
}

func (s *memState) clone() *memState {
	c := *s
	c.accounts = make(map[int64]domain.Account, len(s.accounts))
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	c.payments = make(map[int64]domain.Payment, len(s.payments))
	for k, v := range s.payments {
		c.payments[k] = v
	}
	c.receipts = make(map[int64][]domain.Installments, len(s.receipts))
	for k, v := range s.receipts {
		c.receipts[k] = append([]domain.Installments(nil), v...)
	}
	c.tokens = make(map[string]domain.Token, len(s.tokens))
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	c.audit = append([]audit.Entry(nil), s.audit...)
	c.notifications = append([]memNotification(nil), s.notifications...)
	c.emails = append([]memEmail(nil), s.emails...)
	return &c
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(ctx, &memTx{s: work}); err != nil {
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

type memTx struct{ s *memState }

func (t *memTx) Accounts() ports.AccountRepository { return memAccounts{t.s} }
func (t *memTx) Payments() ports.PaymentRepository { return memPayments{t.s} }
func (t *memTx) Tokens() ports.TokenRepository     { return memTokens{t.s} }
func (t *memTx) Audit() ports.AuditRecorder        { return memAudit{t.s} }
func (t *memTx) Notifier() ports.Notifier          { return memNotifier{t.s} }
func (t *memTx) Mailer() ports.Mailer              { return memMailer{t.s} }

type memAccounts struct{ s *memState }

func (r memAccounts) Get(_ context.Context, id int64) (domain.Account, error) {
	a, ok := r.s.accounts[id]
	if !ok {
		return domain.Account{}, apperr.NotFound("conta não encontrada")
	}
	return a, nil
}

func (r memAccounts) GetForUpdate(ctx context.Context, id int64) (domain.Account, error) {
	return r.Get(ctx, id)
}

func (r memAccounts) Activate(_ context.Context, id int64, confirm bool, at time.Time) (bool, error) {
	a := r.s.accounts[id]
	if a.Ativa || !(a.PagamentoConfirmado || confirm) {
		return false, nil
	}
	a.Ativa = true
	a.PagamentoConfirmado = true
	a.Status = domain.StatusAprovado
	a.AprovadoEm = &at
	r.s.accounts[id] = a
	return true, nil
}

func (r memAccounts) Deactivate(_ context.Context, id int64, _ time.Time) (bool, error) {
	a := r.s.accounts[id]
	if !a.Ativa {
		return false, nil
	}
	a.Ativa = false
	a.Status = domain.StatusSuspenso
	r.s.accounts[id] = a
	return true, nil
}

func (r memAccounts) ConfirmPayment(_ context.Context, id int64, _ time.Time) (bool, error) {
	a, ok := r.s.accounts[id]
	if !ok || a.PagamentoConfirmado {
		return false, nil
	}
	a.PagamentoConfirmado = true
	r.s.accounts[id] = a
	return true, nil
}

func (r memAccounts) AdvanceStatus(_ context.Context, id int64, from []domain.AccountStatus, to domain.AccountStatus, _ time.Time) (bool, error) {
	a, ok := r.s.accounts[id]
	if !ok || a.Ativa {
		return false, nil
	}
	for _, f := range from {
		if a.Status == f {
			a.Status = to
			r.s.accounts[id] = a
			return true, nil
		}
	}
	return false, nil
}

type memPayments struct{ s *memState }

func (r memPayments) GetForUpdate(_ context.Context, id int64) (domain.Payment, error) {
	p, ok := r.s.payments[id]
	if !ok {
		return domain.Payment{}, apperr.NotFound("pagamento não encontrado")
	}
	return p, nil
}

func (r memPayments) MarkConfirmed(_ context.Context, id int64, at time.Time) (bool, error) {
	p := r.s.payments[id]
	if p.ConfirmadoEm != nil {
		return false, nil
	}
	p.ConfirmadoEm = &at
	r.s.payments[id] = p
	return true, nil
}

func (r memPayments) UpdateInstallment(_ context.Context, u ports.UpdateInstallmentParams) (bool, error) {
	p := r.s.payments[u.PaymentID]
	current, ok := p.Parcelas.Get(u.Numero)
	if !ok || current.Status != u.From {
		return false, nil
	}
	next, err := p.Parcelas.WithStatus(u.Numero, u.To)
	if err != nil {
		return false, err
	}
	p.Parcelas = next
	p.Status = u.Overall
	r.s.payments[u.PaymentID] = p
	return true, nil
}

func (r memPayments) UpdateReceiptSnapshots(_ context.Context, paymentID int64, numero int, status domain.InstallmentStatus) (int, error) {
	var n int
	for i, snap := range r.s.receipts[paymentID] {
		next, err := snap.WithStatus(numero, status)
		if err != nil {
			continue
		}
		r.s.receipts[paymentID][i] = next
		n++
	}
	return n, nil
}

func (r memPayments) DueInstallments(_ context.Context, from, to time.Time, limit int) ([]domain.DueInstallment, error) {
	var out []domain.DueInstallment
	for _, p := range r.s.payments {
		for _, it := range p.Parcelas.Items() {
			due, err := it.DueDate()
			if err != nil || it.Status != domain.ParcelaPendente {
				continue
			}
			if due.Before(from.Truncate(24*time.Hour)) || due.After(to) {
				continue
			}
			out = append(out, domain.DueInstallment{
				PagamentoID:    p.ID,
				ContratanteID:  p.ContratanteID,
				Numero:         it.Numero,
				Valor:          it.Valor,
				DataVencimento: due,
			})
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

type memTokens struct{ s *memState }

func (r memTokens) Insert(_ context.Context, t domain.Token) error {
	if _, ok := r.s.tokens[t.Token]; ok {
		return apperr.Conflict("token de retomada duplicado")
	}
	r.s.tokens[t.Token] = t
	return nil
}

func (r memTokens) Get(_ context.Context, token string) (*domain.Token, error) {
	t, ok := r.s.tokens[token]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r memTokens) Consume(_ context.Context, token string, at time.Time) (domain.Token, bool, error) {
	t, ok := r.s.tokens[token]
	if !ok || t.Usado || !at.Before(t.ExpiraEm) {
		return domain.Token{}, false, nil
	}
	t.Usado = true
	t.UsadoEm = &at
	r.s.tokens[token] = t
	return t, true, nil
}

type memAudit struct{ s *memState }

func (r memAudit) Record(_ context.Context, e audit.Entry) error {
	if r.s.failAudit != nil {
		return r.s.failAudit
	}
	r.s.audit = append(r.s.audit, e)
	return nil
}

type memNotifier struct{ s *memState }

// Notify dedups on tipo plus the payment context keys, like the real writer.
func (r memNotifier) Notify(_ context.Context, req ports.NotificationRequest) (uuid.UUID, error) {
	for _, n := range r.s.notifications {
		if !n.Resolved && n.Request.Tipo == req.Tipo && n.Request.ContratanteID == req.ContratanteID &&
			sameValue(n.Request.Contexto, req.Contexto, notifContextPagamentoID) &&
			sameValue(n.Request.Contexto, req.Contexto, notifContextNumeroParcela) {
			return n.ID, nil
		}
	}
	id := uuid.New()
	r.s.notifications = append(r.s.notifications, memNotification{ID: id, Request: req})
	return id, nil
}

func (r memNotifier) ResolveMatching(_ context.Context, tipos []string, match map[string]any, _ string) (int, error) {
	var n int
	for i, notif := range r.s.notifications {
		if notif.Resolved || !containsString(tipos, notif.Request.Tipo) {
			continue
		}
		hit := true
		for k := range match {
			if !sameValue(notif.Request.Contexto, match, k) {
				hit = false
				break
			}
		}
		if hit {
			r.s.notifications[i].Resolved = true
			n++
		}
	}
	return n, nil
}

type memMailer struct{ s *memState }

func (r memMailer) QueueResumptionEmail(_ context.Context, to string, msg ports.ResumptionMessage) error {
	r.s.emails = append(r.s.emails, memEmail{To: to, Msg: msg})
	return nil
}

// sameValue compares context values the way jsonb containment would.
func sameValue(a, b map[string]any, key string) bool {
	av, _ := json.Marshal(a[key])
	bv, _ := json.Marshal(b[key])
	return string(av) == string(bv)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
