package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
	CTALabel   string
	CTAURL     string
}

type notificationEmailData struct {
	baseEmailData
	Mensagem string
	Urgente  bool
}

func renderNotificationEmail(n NotificationEmail) (string, error) {
	label := n.BotaoTexto
	if label == "" && n.LinkAcao != "" {
		label = "Abrir no QWork"
	}
	return renderEmailTemplate("notification.html", notificationEmailData{
		baseEmailData: baseEmailData{
			Title:    n.Titulo,
			Heading:  n.Titulo,
			CTALabel: label,
			CTAURL:   n.LinkAcao,
		},
		Mensagem: n.Mensagem,
		Urgente:  n.Prioridade == "critica",
	})
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

// ResumptionEmail describes the payment resumption link sent to an account.
type ResumptionEmail struct {
	Nome               string
	Link               string
	NumeroFuncionarios int
	ValorTotal         float64
	ExpiraEm           time.Time
}

type resumptionEmailData struct {
	baseEmailData
	Nome               string
	NumeroFuncionarios int
	ValorTotal         string
	ExpiraEm           string
}

// RenderResumptionEmail returns the subject and HTML body of a resumption email.
func RenderResumptionEmail(r ResumptionEmail) (string, string, error) {
	subject := "QWork: retome seu pagamento"
	body, err := renderEmailTemplate("resumption.html", resumptionEmailData{
		baseEmailData: baseEmailData{
			Title:    subject,
			Heading:  "Retome seu pagamento",
			CTALabel: "Retomar pagamento",
			CTAURL:   r.Link,
		},
		Nome:               r.Nome,
		NumeroFuncionarios: r.NumeroFuncionarios,
		ValorTotal:         formatBRL(r.ValorTotal),
		ExpiraEm:           r.ExpiraEm.In(brasilia).Format("02/01/2006 15:04"),
	})
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

var brasilia = time.FixedZone("BRT", -3*60*60)

// formatBRL renders a value as R$ 1.234,56.
func formatBRL(v float64) string {
	cents := int64(v*100 + 0.5)
	if v < 0 {
		cents = int64(v*100 - 0.5)
	}
	neg := cents < 0
	if neg {
		cents = -cents
	}
	whole := strconv.FormatInt(cents/100, 10)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	out := fmt.Sprintf("R$ %s,%02d", b.String(), cents%100)
	if neg {
		out = "-" + out
	}
	return out
}
