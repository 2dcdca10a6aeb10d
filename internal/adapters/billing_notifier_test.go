package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"qwork_backend/internal/billing/domain"
	"qwork_backend/internal/billing/ports"
	"qwork_backend/internal/notification/outbox"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type idRow struct{ id uuid.UUID }

func (r idRow) Scan(dest ...any) error {
	if len(dest) != 1 {
		return errors.New("unexpected scan")
	}
	*dest[0].(*uuid.UUID) = r.id
	return nil
}

type outboxQuerier struct {
	sql  string
	args []any
}

func (q *outboxQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("unexpected exec")
}

func (q *outboxQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (q *outboxQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.sql, q.args = sql, args
	return idRow{id: uuid.New()}
}

func TestBillingMailerQueuesCustomEmail(t *testing.T) {
	q := &outboxQuerier{}
	mailer := NewBillingMailerFactory()(q)

	err := mailer.QueueResumptionEmail(context.Background(), "rh@sul.test", ports.ResumptionMessage{
		Nome:   "Clínica Sul",
		Link:   "https://app.qwork.test/pagamento/retomar?token=abc",
		Plano:  domain.PlanSnapshot{PlanoTipo: domain.PlanoFixo, NumeroFuncionarios: 40, ValorTotal: 1200},
		Expira: time.Date(2026, 3, 13, 15, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(q.sql, "INSERT INTO notificacoes_outbox") {
		t.Fatalf("unexpected sql %s", q.sql)
	}
	if q.args[1] != outbox.KindEmail || q.args[2] != outbox.TemplateCustom {
		t.Fatalf("unexpected kind/template %v %v", q.args[1], q.args[2])
	}
	var payload outbox.CustomEmailPayload
	if err := json.Unmarshal(q.args[3].([]byte), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.To != "rh@sul.test" || payload.Subject == "" || !strings.Contains(payload.HTML, "pagamento/retomar?token=abc") {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
