package transport

import (
	"time"

	"qwork_backend/internal/billing/domain"
	"qwork_backend/internal/billing/service"
)

// ActivateAccountRequest is the request body for activating an account.
// Reason length is enforced by the service so the error carries the threshold.
type ActivateAccountRequest struct {
	Motivo                 string `json:"motivo" validate:"required,trim,max=2000"`
	AprovacaoPersonalizado bool   `json:"aprovacaoPersonalizado"`
}

// DeactivateAccountRequest is the request body for suspending an account.
type DeactivateAccountRequest struct {
	Motivo string `json:"motivo" validate:"required,trim,max=2000"`
}

// IssueTokenRequest carries the plan snapshot a resumption token is issued for.
type IssueTokenRequest struct {
	PlanoTipo          string  `json:"planoTipo" validate:"required,oneof=fixo personalizado"`
	NumeroFuncionarios int     `json:"numeroFuncionarios" validate:"required,gt=0"`
	ValorTotal         float64 `json:"valorTotal" validate:"required,gt=0"`
}

// UpdateInstallmentRequest is the request body for changing one installment.
type UpdateInstallmentRequest struct {
	Status string `json:"status" validate:"required,oneof=pendente pago cancelado"`
}

type AccountResponse struct {
	ID                  int64      `json:"id"`
	Tipo                string     `json:"tipo"`
	Nome                string     `json:"nome"`
	PlanoTipo           string     `json:"planoTipo"`
	Ativa               bool       `json:"ativa"`
	PagamentoConfirmado bool       `json:"pagamentoConfirmado"`
	Status              string     `json:"status"`
	AprovadoEm          *time.Time `json:"aprovadoEm,omitempty"`
}

type ActivationResponse struct {
	Conta   AccountResponse `json:"conta"`
	Isencao bool            `json:"isencao"`
}

type InstallmentResponse struct {
	Numero         int     `json:"numero"`
	Valor          float64 `json:"valor"`
	DataVencimento string  `json:"dataVencimento"`
	Status         string  `json:"status"`
}

type PaymentResponse struct {
	ID             int64                 `json:"id"`
	ContratanteID  int64                 `json:"contratanteId"`
	Metodo         string                `json:"metodo"`
	Valor          float64               `json:"valor"`
	NumeroParcelas int                   `json:"numeroParcelas"`
	Status         string                `json:"status"`
	ConfirmadoEm   *time.Time            `json:"confirmadoEm,omitempty"`
	Parcelas       []InstallmentResponse `json:"parcelas"`
}

type InstallmentUpdateResponse struct {
	Pagamento              PaymentResponse `json:"pagamento"`
	Numero                 int             `json:"numero"`
	StatusAnterior         string          `json:"statusAnterior"`
	Status                 string          `json:"status"`
	NotificacoesResolvidas int             `json:"notificacoesResolvidas"`
}

type TokenResponse struct {
	Token        string    `json:"token"`
	ExpiraEm     time.Time `json:"expiraEm"`
	Link         string    `json:"link,omitempty"`
	EmailEnviado bool      `json:"emailEnviado"`
}

type ConsumeTokenResponse struct {
	ContratanteID int64     `json:"contratanteId"`
	UsadoEm       time.Time `json:"usadoEm"`
}

func ToAccountResponse(a domain.Account) AccountResponse {
	return AccountResponse{
		ID:                  a.ID,
		Tipo:                string(a.Tipo),
		Nome:                a.Nome,
		PlanoTipo:           string(a.PlanoTipo),
		Ativa:               a.Ativa,
		PagamentoConfirmado: a.PagamentoConfirmado,
		Status:              string(a.Status),
		AprovadoEm:          a.AprovadoEm,
	}
}

func ToActivationResponse(r service.ActivationResult) ActivationResponse {
	return ActivationResponse{Conta: ToAccountResponse(r.Account), Isencao: r.Isencao}
}

func ToPaymentResponse(p domain.Payment) PaymentResponse {
	items := p.Parcelas.Items()
	parcelas := make([]InstallmentResponse, 0, len(items))
	for _, it := range items {
		parcelas = append(parcelas, InstallmentResponse{
			Numero:         it.Numero,
			Valor:          it.Valor,
			DataVencimento: it.DataVencimento,
			Status:         string(it.Status),
		})
	}
	return PaymentResponse{
		ID:             p.ID,
		ContratanteID:  p.ContratanteID,
		Metodo:         p.Metodo,
		Valor:          p.Valor,
		NumeroParcelas: p.NumeroParcelas,
		Status:         string(p.Status),
		ConfirmadoEm:   p.ConfirmadoEm,
		Parcelas:       parcelas,
	}
}

func ToInstallmentUpdateResponse(u service.InstallmentUpdate) InstallmentUpdateResponse {
	return InstallmentUpdateResponse{
		Pagamento:              ToPaymentResponse(u.Payment),
		Numero:                 u.Numero,
		StatusAnterior:         string(u.From),
		Status:                 string(u.To),
		NotificacoesResolvidas: u.Resolved,
	}
}

func ToTokenResponse(t service.IssuedToken) TokenResponse {
	return TokenResponse{
		Token:        t.Token.Token,
		ExpiraEm:     t.Token.ExpiraEm,
		Link:         t.Link,
		EmailEnviado: t.EmailSent,
	}
}

func ToConsumeTokenResponse(t domain.Token) ConsumeTokenResponse {
	resp := ConsumeTokenResponse{ContratanteID: t.ContratanteID}
	if t.UsadoEm != nil {
		resp.UsadoEm = *t.UsadoEm
	}
	return resp
}

// ToPlanSnapshot converts the request into the domain snapshot.
func ToPlanSnapshot(req IssueTokenRequest) domain.PlanSnapshot {
	return domain.PlanSnapshot{
		PlanoTipo:          domain.PlanoTipo(req.PlanoTipo),
		NumeroFuncionarios: req.NumeroFuncionarios,
		ValorTotal:         req.ValorTotal,
	}
}
