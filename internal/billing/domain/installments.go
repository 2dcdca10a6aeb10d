package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"qwork_backend/platform/apperr"
)

// InstallmentStatus is the status of one installment.
type InstallmentStatus string

const (
	ParcelaPendente  InstallmentStatus = "pendente"
	ParcelaPaga      InstallmentStatus = "pago"
	ParcelaCancelada InstallmentStatus = "cancelado"
)

func (s InstallmentStatus) Valid() bool {
	return s == ParcelaPendente || s == ParcelaPaga || s == ParcelaCancelada
}

var installmentTransitions = map[InstallmentStatus][]InstallmentStatus{
	ParcelaPendente: {ParcelaPaga, ParcelaCancelada},
	ParcelaPaga:     {ParcelaPendente},
}

// CanTransitionTo reports whether an installment may move from s to target.
// A paid installment may be reverted to pendente; cancelled is terminal.
func (s InstallmentStatus) CanTransitionTo(target InstallmentStatus) bool {
	for _, t := range installmentTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// PaymentStatus is the overall status of a payment, derived from its installments.
type PaymentStatus string

const (
	PagamentoPendente  PaymentStatus = "pendente"
	PagamentoParcial   PaymentStatus = "parcial"
	PagamentoPago      PaymentStatus = "pago"
	PagamentoCancelado PaymentStatus = "cancelado"
)

// Installment is one element of a payment's installment collection.
type Installment struct {
	Numero         int               `json:"numero"`
	Valor          float64           `json:"valor"`
	DataVencimento string            `json:"data_vencimento"`
	Status         InstallmentStatus `json:"status"`
}

// DueDate parses DataVencimento (YYYY-MM-DD).
func (i Installment) DueDate() (time.Time, error) {
	return time.Parse(time.DateOnly, i.DataVencimento)
}

// Installments is the ordered installment collection of a payment. It keeps
// each element's original encoding so an update rewrites only its target.
type Installments struct {
	items []Installment
	raw   []json.RawMessage
}

// ParseInstallments decodes a JSON array of installments.
func ParseInstallments(data []byte) (Installments, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Installments{}, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Installments{}, fmt.Errorf("decode installments: %w", err)
	}
	items := make([]Installment, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal(r, &items[i]); err != nil {
			return Installments{}, fmt.Errorf("decode installment %d: %w", i, err)
		}
	}
	return Installments{items: items, raw: raw}, nil
}

// NewInstallments builds a collection from decoded items.
func NewInstallments(items []Installment) (Installments, error) {
	raw := make([]json.RawMessage, len(items))
	for i, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return Installments{}, err
		}
		raw[i] = b
	}
	return Installments{items: append([]Installment(nil), items...), raw: raw}, nil
}

func (in Installments) Len() int { return len(in.items) }

// Items returns a copy of the decoded installments.
func (in Installments) Items() []Installment {
	return append([]Installment(nil), in.items...)
}

// Raw returns the encoding of the element at i.
func (in Installments) Raw(i int) json.RawMessage {
	return in.raw[i]
}

// Index returns the position of installment numero, or -1.
func (in Installments) Index(numero int) int {
	for i, it := range in.items {
		if it.Numero == numero {
			return i
		}
	}
	return -1
}

// Get returns installment numero.
func (in Installments) Get(numero int) (Installment, bool) {
	i := in.Index(numero)
	if i < 0 {
		return Installment{}, false
	}
	return in.items[i], true
}

// WithStatus returns a copy in which only installment numero has the new
// status. Sibling elements keep their exact encoding, and inside the target
// only the status value changes.
func (in Installments) WithStatus(numero int, status InstallmentStatus) (Installments, error) {
	if !status.Valid() {
		return Installments{}, apperr.Validation("status de parcela inválido")
	}
	idx := in.Index(numero)
	if idx < 0 {
		return Installments{}, apperr.NotFound(fmt.Sprintf("parcela %d não encontrada", numero))
	}
	current := in.items[idx].Status
	if current == status {
		return Installments{}, apperr.AlreadyProcessed(fmt.Sprintf("parcela %d já está %s", numero, status))
	}
	if !current.CanTransitionTo(status) {
		return Installments{}, apperr.IllegalTransition("parcela", string(current), string(status))
	}

	patched, err := patchStatus(in.raw[idx], status)
	if err != nil {
		return Installments{}, err
	}

	out := Installments{
		items: append([]Installment(nil), in.items...),
		raw:   append([]json.RawMessage(nil), in.raw...),
	}
	out.items[idx].Status = status
	out.raw[idx] = patched
	return out, nil
}

// patchStatus replaces the value of the "status" key, leaving every other
// byte of the element as it was.
func patchStatus(elem json.RawMessage, status InstallmentStatus) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(elem))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode installment: %w", err)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode installment key: %w", err)
		}
		start := dec.InputOffset()
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode installment value: %w", err)
		}
		end := dec.InputOffset()
		if key, _ := keyTok.(string); key != "status" {
			continue
		}
		// start sits right after the key; skip the colon and spaces before the value.
		valueStart := start + int64(bytes.Index(elem[start:end], value))
		encoded, err := json.Marshal(status)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(elem)+len(encoded))
		out = append(out, elem[:valueStart]...)
		out = append(out, encoded...)
		out = append(out, elem[valueStart+int64(len(value)):]...)
		return out, nil
	}
	return nil, fmt.Errorf("installment has no status field")
}

// MarshalJSON joins the element encodings unchanged.
func (in Installments) MarshalJSON() ([]byte, error) {
	if len(in.raw) == 0 {
		return []byte("[]"), nil
	}
	parts := make([][]byte, len(in.raw))
	for i, r := range in.raw {
		parts[i] = r
	}
	return append(append([]byte("["), bytes.Join(parts, []byte(","))...), ']'), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (in *Installments) UnmarshalJSON(data []byte) error {
	parsed, err := ParseInstallments(data)
	if err != nil {
		return err
	}
	*in = parsed
	return nil
}

// Overall derives the payment status: pago when every non-cancelled
// installment is paid, parcial when some are, cancelado when all are cancelled.
func (in Installments) Overall() PaymentStatus {
	var paid, cancelled int
	for _, it := range in.items {
		switch it.Status {
		case ParcelaPaga:
			paid++
		case ParcelaCancelada:
			cancelled++
		}
	}
	switch {
	case len(in.items) == 0:
		return PagamentoPendente
	case cancelled == len(in.items):
		return PagamentoCancelado
	case paid > 0 && paid+cancelled == len(in.items):
		return PagamentoPago
	case paid > 0:
		return PagamentoParcial
	default:
		return PagamentoPendente
	}
}

// Payment is a payment with its installment collection.
type Payment struct {
	ID             int64
	ContratanteID  int64
	Metodo         string
	Valor          float64
	NumeroParcelas int
	Parcelas       Installments
	Status         PaymentStatus
	ConfirmadoEm   *time.Time
	CriadoEm       time.Time
}

// DueInstallment is a pending installment falling due inside a reminder window.
type DueInstallment struct {
	PagamentoID    int64
	ContratanteID  int64
	Numero         int
	Valor          float64
	DataVencimento time.Time
}
