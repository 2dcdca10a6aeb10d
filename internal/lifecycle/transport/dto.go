package transport

import (
	"time"

	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/lifecycle/service"
	"qwork_backend/internal/shared/caller"
)

// ScopeRequest names the tenancy boundary of a lote created by a privileged caller.
type ScopeRequest struct {
	Kind          string `json:"kind" validate:"required,oneof=empresa entidade"`
	ClinicaID     *int64 `json:"clinicaId,omitempty" validate:"omitempty,gt=0"`
	EmpresaID     *int64 `json:"empresaId,omitempty" validate:"omitempty,gt=0"`
	ContratanteID *int64 `json:"contratanteId,omitempty" validate:"omitempty,gt=0"`
}

// CreateLoteRequest is the request body for creating a lote.
type CreateLoteRequest struct {
	Codigo          string        `json:"codigo" validate:"required,trim,max=40"`
	Tipo            string        `json:"tipo" validate:"required,oneof=completo operacional gestao"`
	Scope           *ScopeRequest `json:"scope,omitempty"`
	FuncionarioCPFs []string      `json:"funcionarioCpfs" validate:"omitempty,max=5000,dive,cpf"`
	Liberar         bool          `json:"liberar"`
}

// TransitionLoteRequest is the request body for an explicit lote transition.
type TransitionLoteRequest struct {
	Status string `json:"status" validate:"required"`
}

// InactivateRequest is the request body for inactivating an assessment.
// Length thresholds are enforced by the service so the error carries them.
type InactivateRequest struct {
	Justificativa string `json:"justificativa" validate:"required,trim,max=2000"`
	Forcar        bool   `json:"forcar"`
}

// LaudoErrorRequest is the request body for recording a generation failure.
type LaudoErrorRequest struct {
	Causa string `json:"causa" validate:"required,trim,max=2000"`
}

type LoteResponse struct {
	ID          int64        `json:"id"`
	Codigo      string       `json:"codigo"`
	Tipo        string       `json:"tipo"`
	Status      string       `json:"status"`
	Scope       caller.Scope `json:"scope"`
	NumeroOrdem int          `json:"numeroOrdem"`
	LiberadoPor string       `json:"liberadoPor,omitempty"`
	CriadoEm    time.Time    `json:"criadoEm"`
	LiberadoEm  *time.Time   `json:"liberadoEm,omitempty"`
	EmitidoEm   *time.Time   `json:"emitidoEm,omitempty"`
	HashLaudo   *string      `json:"hashLaudo,omitempty"`
	Transicoes  []string     `json:"transicoesPermitidas"`
}

type LaudoResponse struct {
	ID         int64      `json:"id"`
	Status     string     `json:"status"`
	EmissorCPF *string    `json:"emissorCpf,omitempty"`
	EmitidoEm  *time.Time `json:"emitidoEm,omitempty"`
	HashPDF    *string    `json:"hashPdf,omitempty"`
	EnviadoEm  *time.Time `json:"enviadoEm,omitempty"`
	ArquivoKey *string    `json:"arquivoKey,omitempty"`
	Tentativas int        `json:"tentativas"`
	UltimoErro *string    `json:"ultimoErro,omitempty"`
}

type AvaliacaoResponse struct {
	ID               int64      `json:"id"`
	LoteID           int64      `json:"loteId"`
	FuncionarioCPF   string     `json:"funcionarioCpf"`
	Status           string     `json:"status"`
	MotivoInativacao *string    `json:"motivoInativacao,omitempty"`
	InativadaEm      *time.Time `json:"inativadaEm,omitempty"`
	IniciadaEm       *time.Time `json:"iniciadaEm,omitempty"`
	ConcluidaEm      *time.Time `json:"concluidaEm,omitempty"`
}

type CountsResponse struct {
	Total      int `json:"total"`
	Rascunho   int `json:"rascunho"`
	Pendentes  int `json:"pendentes"`
	Concluidas int `json:"concluidas"`
	Inativadas int `json:"inativadas"`
}

type EmissionResponse struct {
	SolicitadoPor string    `json:"solicitadoPor"`
	SolicitadoEm  time.Time `json:"solicitadoEm"`
	Tentativas    int       `json:"tentativas"`
}

// LoteDetailResponse is returned by create and get.
type LoteDetailResponse struct {
	Lote       LoteResponse      `json:"lote"`
	Laudo      LaudoResponse     `json:"laudo"`
	Avaliacoes CountsResponse    `json:"avaliacoes"`
	Emissao    *EmissionResponse `json:"emissao,omitempty"`
}

// InactivationResponse mirrors the inactivation contract.
type InactivationResponse struct {
	Avaliacao         AvaliacaoResponse  `json:"avaliacao"`
	Forced            bool               `json:"forced"`
	LoteStatus        string             `json:"loteStatus"`
	LoteAutoCompleted bool               `json:"loteAutoCompleted"`
	LoteAutoCancelled bool               `json:"loteAutoCancelled"`
	Guard             domain.GuardResult `json:"guard"`
}

type AvaliacaoResultResponse struct {
	Avaliacao AvaliacaoResponse       `json:"avaliacao"`
	Lote      service.RecomputeResult `json:"lote"`
}

type IntegrityResponse struct {
	Valido bool `json:"valido"`
}

func ToLoteResponse(l domain.Lote) LoteResponse {
	targets := l.Status.AllowedTargets()
	next := make([]string, 0, len(targets))
	for _, t := range targets {
		next = append(next, string(t))
	}
	return LoteResponse{
		ID:          l.ID,
		Codigo:      l.Codigo,
		Tipo:        string(l.Tipo),
		Status:      string(l.Status),
		Scope:       l.Scope,
		NumeroOrdem: l.NumeroOrdem,
		LiberadoPor: l.LiberadoPor,
		CriadoEm:    l.CriadoEm,
		LiberadoEm:  l.LiberadoEm,
		EmitidoEm:   l.EmitidoEm,
		HashLaudo:   l.HashLaudo,
		Transicoes:  next,
	}
}

func ToLaudoResponse(l domain.Laudo) LaudoResponse {
	return LaudoResponse{
		ID:         l.ID,
		Status:     string(l.Status),
		EmissorCPF: l.EmissorCPF,
		EmitidoEm:  l.EmitidoEm,
		HashPDF:    l.HashPDF,
		EnviadoEm:  l.EnviadoEm,
		ArquivoKey: l.ArquivoKey,
		Tentativas: l.Tentativas,
		UltimoErro: l.UltimoErro,
	}
}

func ToAvaliacaoResponse(a domain.Avaliacao) AvaliacaoResponse {
	return AvaliacaoResponse{
		ID:               a.ID,
		LoteID:           a.LoteID,
		FuncionarioCPF:   a.FuncionarioCPF,
		Status:           string(a.Status),
		MotivoInativacao: a.MotivoInativacao,
		InativadaEm:      a.InativadaEm,
		IniciadaEm:       a.IniciadaEm,
		ConcluidaEm:      a.ConcluidaEm,
	}
}

func ToLoteDetailResponse(d service.LoteDetail) LoteDetailResponse {
	resp := LoteDetailResponse{
		Lote:  ToLoteResponse(d.Lote),
		Laudo: ToLaudoResponse(d.Laudo),
		Avaliacoes: CountsResponse{
			Total:      d.Counts.Total,
			Rascunho:   d.Counts.Rascunho,
			Pendentes:  d.Counts.Pendentes,
			Concluidas: d.Counts.Concluidas,
			Inativadas: d.Counts.Inativadas,
		},
	}
	if d.Emission != nil {
		resp.Emissao = &EmissionResponse{
			SolicitadoPor: d.Emission.SolicitadoPor,
			SolicitadoEm:  d.Emission.SolicitadoEm,
			Tentativas:    d.Emission.Tentativas,
		}
	}
	return resp
}

func ToInactivationResponse(r service.InactivationResult) InactivationResponse {
	return InactivationResponse{
		Avaliacao:         ToAvaliacaoResponse(r.Avaliacao),
		Forced:            r.Forced,
		LoteStatus:        string(r.Lote.Status),
		LoteAutoCompleted: r.Lote.AutoCompleted,
		LoteAutoCancelled: r.Lote.AutoCancelled,
		Guard:             r.Guard,
	}
}

func ToAvaliacaoResultResponse(r service.AvaliacaoResult) AvaliacaoResultResponse {
	return AvaliacaoResultResponse{Avaliacao: ToAvaliacaoResponse(r.Avaliacao), Lote: r.Lote}
}

// ToCreateLoteInput converts the request into the service input.
func ToCreateLoteInput(req CreateLoteRequest) service.CreateLoteInput {
	in := service.CreateLoteInput{
		Codigo:          req.Codigo,
		Tipo:            domain.LoteTipo(req.Tipo),
		FuncionarioCPFs: req.FuncionarioCPFs,
		Liberar:         req.Liberar,
	}
	if req.Scope != nil {
		in.Scope = &caller.Scope{
			Kind:          caller.ScopeKind(req.Scope.Kind),
			ClinicaID:     req.Scope.ClinicaID,
			EmpresaID:     req.Scope.EmpresaID,
			ContratanteID: req.Scope.ContratanteID,
		}
	}
	return in
}
