package email

import "fmt"

const subjectPrefix = "QWork"

var subjectsByTipo = map[string]string{
	"lote_concluido_aguardando_laudo": "Lote concluído, aguardando emissão do laudo",
	"emissao_solicitada_sucesso":      "Emissão de laudo solicitada",
	"laudo_enviado":                   "Laudo disponível",
	"parcela_pendente":                "Parcela pendente",
	"parcela_vencendo":                "Parcela próxima do vencimento",
	"quitacao_completa":               "Pagamento quitado",
	"pagamento_confirmado":            "Pagamento confirmado",
	"contratacao_ativa":               "Conta ativada",
}

func notificationSubject(n NotificationEmail) string {
	if subject, ok := subjectsByTipo[n.Tipo]; ok {
		return fmt.Sprintf("%s: %s", subjectPrefix, subject)
	}
	if n.Titulo != "" {
		return fmt.Sprintf("%s: %s", subjectPrefix, n.Titulo)
	}
	return subjectPrefix
}
