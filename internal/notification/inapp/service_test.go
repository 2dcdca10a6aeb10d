package inapp

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"qwork_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		if i >= len(r.vals) {
			break
		}
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(r.vals[i]))
	}
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type fakeQuerier struct {
	contratanteCPF   string
	contratanteEmail *string
	funcionarioEmail *string
	openID           *uuid.UUID

	insertedID uuid.UUID
	inserts    []execCall
	outbox     []execCall
	execs      []execCall
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "FROM contratantes WHERE id"):
		return fakeRow{vals: []any{f.contratanteCPF, f.contratanteEmail}}
	case strings.Contains(sql, "FROM funcionarios"):
		if f.funcionarioEmail == nil {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{vals: []any{f.funcionarioEmail, (*int64)(nil)}}
	case strings.Contains(sql, "INSERT INTO notificacoes_outbox"):
		f.outbox = append(f.outbox, execCall{sql: sql, args: args})
		return fakeRow{vals: []any{uuid.New()}}
	case strings.Contains(sql, "INSERT INTO notificacoes"):
		f.inserts = append(f.inserts, execCall{sql: sql, args: args})
		return fakeRow{vals: []any{f.insertedID}}
	case strings.Contains(sql, "dedup_key = $3"):
		if f.openID == nil {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{vals: []any{*f.openID}}
	}
	return fakeRow{err: errors.New("unexpected query: " + sql)}
}

func (f *fakeQuerier) locked() bool {
	for _, e := range f.execs {
		if strings.Contains(e.sql, "pg_advisory_xact_lock") {
			return true
		}
	}
	return false
}

func strPtr(s string) *string { return &s }

func TestDedupKey(t *testing.T) {
	cases := []struct {
		name     string
		contexto map[string]any
		want     string
		ok       bool
	}{
		{"lote", map[string]any{"lote_id": int64(5)}, "lote_concluido|lote:5", true},
		{"lote from json", map[string]any{"lote_id": float64(5)}, "lote_concluido|lote:5", true},
		{"pagamento", map[string]any{"pagamento_id": 9}, "lote_concluido|pagamento:9", true},
		{"parcela", map[string]any{"pagamento_id": 9, "numero_parcela": 2}, "lote_concluido|pagamento:9|parcela:2", true},
		{"lote wins", map[string]any{"lote_id": 1, "pagamento_id": 9}, "lote_concluido|lote:1", true},
		{"blank", map[string]any{"lote_id": "  "}, "", false},
		{"none", nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DedupKey("lote_concluido", tc.contexto)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("DedupKey = (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestCreateForContratanteQueuesUrgentEmail(t *testing.T) {
	q := &fakeQuerier{
		contratanteCPF:   "12345678901",
		contratanteEmail: strPtr("resp@empresa.com.br"),
		insertedID:       uuid.New(),
	}
	id := int64(42)

	res, err := NewWriter(q, nil).Create(context.Background(), CreateParams{
		Tipo:             "parcela_vencendo",
		Prioridade:       PrioridadeAlta,
		DestinatarioTipo: DestinatarioContratante,
		DestinatarioID:   &id,
		Titulo:           "Parcela vencendo",
		Mensagem:         "A parcela 2 vence amanhã",
		Contexto:         map[string]any{"pagamento_id": 7, "numero_parcela": 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Created || res.ID != q.insertedID {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !q.locked() {
		t.Fatalf("expected the dedup key to be locked")
	}
	if len(q.inserts) != 1 {
		t.Fatalf("expected one insert, got %d", len(q.inserts))
	}
	args := q.inserts[0].args
	if args[2] != "12345678901" {
		t.Fatalf("expected responsavel cpf as recipient, got %v", args[2])
	}
	var contexto map[string]any
	if err := json.Unmarshal(args[6].([]byte), &contexto); err != nil {
		t.Fatalf("decode context: %v", err)
	}
	if contexto["contratante_id"] != float64(42) {
		t.Fatalf("expected contratante_id in context, got %v", contexto)
	}
	if key := args[7].(*string); key == nil || *key != "parcela_vencendo|pagamento:7|parcela:2" {
		t.Fatalf("unexpected dedup key %v", key)
	}
	if len(q.outbox) != 1 {
		t.Fatalf("expected urgent notification to be mirrored to the outbox")
	}
	if payload := string(q.outbox[0].args[3].([]byte)); !strings.Contains(payload, "resp@empresa.com.br") {
		t.Fatalf("outbox payload missing recipient email: %s", payload)
	}
}

func TestCreateReturnsOpenDuplicate(t *testing.T) {
	open := uuid.New()
	q := &fakeQuerier{funcionarioEmail: strPtr("f@x.com"), openID: &open}

	res, err := NewWriter(q, nil).Create(context.Background(), CreateParams{
		Tipo:             "avaliacao_pendente",
		Prioridade:       PrioridadeCritica,
		DestinatarioTipo: DestinatarioFuncionario,
		DestinatarioCPF:  "11122233344",
		Titulo:           "Avaliação pendente",
		Mensagem:         "Conclua sua avaliação",
		Contexto:         map[string]any{"lote_id": 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Created || res.ID != open {
		t.Fatalf("expected the open notification, got %+v", res)
	}
	if len(q.inserts) != 0 || len(q.outbox) != 0 {
		t.Fatalf("duplicate must not insert anything")
	}
}

func TestCreateWithoutDedupContextSkipsLock(t *testing.T) {
	q := &fakeQuerier{insertedID: uuid.New()}

	res, err := NewWriter(q, nil).Create(context.Background(), CreateParams{
		Tipo:             "aviso",
		Prioridade:       PrioridadeCritica,
		DestinatarioTipo: DestinatarioAdmin,
		DestinatarioCPF:  "99988877766",
		Titulo:           "Aviso",
		Mensagem:         "Manutenção programada",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Created {
		t.Fatalf("expected insert")
	}
	if q.locked() {
		t.Fatalf("no dedup key means no lock")
	}
	if key := q.inserts[0].args[7].(*string); key != nil {
		t.Fatalf("expected nil dedup key, got %q", *key)
	}
	if len(q.outbox) != 0 {
		t.Fatalf("recipient without email must not be queued")
	}
}

func TestCreateValidatesInput(t *testing.T) {
	base := CreateParams{
		Tipo:             "aviso",
		DestinatarioTipo: DestinatarioFuncionario,
		DestinatarioCPF:  "11122233344",
		Titulo:           "t",
		Mensagem:         "m",
	}
	cases := map[string]func(p *CreateParams){
		"tipo":         func(p *CreateParams) { p.Tipo = " " },
		"prioridade":   func(p *CreateParams) { p.Prioridade = "urgente" },
		"destinatario": func(p *CreateParams) { p.DestinatarioTipo = "rh" },
		"mensagem":     func(p *CreateParams) { p.Mensagem = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := base
			mutate(&p)
			_, err := NewWriter(&fakeQuerier{}, nil).Create(context.Background(), p)
			var appErr *apperr.Error
			if !errors.As(err, &appErr) || appErr.Kind != apperr.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestContratanteRecipientRequiresID(t *testing.T) {
	_, err := NewWriter(&fakeQuerier{}, nil).Create(context.Background(), CreateParams{
		Tipo:             "aviso",
		DestinatarioTipo: DestinatarioContratante,
		Titulo:           "t",
		Mensagem:         "m",
	})
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveByContextRejectsUnsafeKey(t *testing.T) {
	q := &fakeQuerier{}
	w := NewWriter(q, nil)
	if _, err := w.ResolveByContext(context.Background(), "lote_id'; --", "1", "x"); err == nil {
		t.Fatalf("expected invalid key to be rejected")
	}
	n, err := w.ResolveByContext(context.Background(), "lote_id", "1", "12345678901")
	if err != nil || n != 1 {
		t.Fatalf("ResolveByContext = (%d, %v)", n, err)
	}
	if got := q.execs[len(q.execs)-1].args; got[0] != "lote_id" || got[1] != "1" {
		t.Fatalf("unexpected args %v", got)
	}
}

func TestResolveMatchingUsesContainment(t *testing.T) {
	q := &fakeQuerier{}
	w := NewWriter(q, nil)
	if _, err := w.ResolveMatching(context.Background(), []string{"parcela_vencendo"}, nil, "x"); err == nil {
		t.Fatalf("expected empty match to be rejected")
	}

	n, err := w.ResolveMatching(context.Background(),
		[]string{"parcela_pendente", "parcela_vencendo"},
		map[string]any{"pagamento_id": int64(3), "numero_parcela": 2},
		"12345678901",
	)
	if err != nil || n != 1 {
		t.Fatalf("ResolveMatching = (%d, %v)", n, err)
	}
	call := q.execs[len(q.execs)-1]
	if !strings.Contains(call.sql, "dados_contexto @> $2::jsonb") || !strings.Contains(call.sql, "tipo = ANY($1)") {
		t.Fatalf("unexpected sql %s", call.sql)
	}
	var match map[string]any
	if err := json.Unmarshal([]byte(call.args[1].(string)), &match); err != nil {
		t.Fatal(err)
	}
	if match["pagamento_id"] != float64(3) || match["numero_parcela"] != float64(2) {
		t.Fatalf("unexpected match %v", match)
	}
}

func TestListWhere(t *testing.T) {
	where, args := listWhere("12345678901", Filter{Tipo: "aviso", Prioridade: PrioridadeAlta})
	for _, frag := range []string{"arquivada = FALSE", "expira_em > now()", "resolvida = FALSE", "tipo = $2", "prioridade = $3"} {
		if !strings.Contains(where, frag) {
			t.Fatalf("expected %q in %q", frag, where)
		}
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}

	where, _ = listWhere("12345678901", Filter{IncludeResolved: true})
	if strings.Contains(where, "resolvida = FALSE") {
		t.Fatalf("resolved filter must be dropped when requested")
	}
}

func TestFilterNormalized(t *testing.T) {
	f := Filter{Page: 0, PageSize: 1000}.normalized()
	if f.Page != 1 || f.PageSize != maxPageSize {
		t.Fatalf("unexpected normalization %+v", f)
	}
	if off := (Filter{Page: 3, PageSize: 20}).offset(); off != 40 {
		t.Fatalf("offset = %d", off)
	}
}
