package ports

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// NotificationRequest is the lifecycle view of a notification to create.
type NotificationRequest struct {
	Tipo            string
	Prioridade      string
	DestinatarioCPF string
	// DestinatarioTipo is one of contratante, clinica, funcionario, gestor, admin.
	DestinatarioTipo string
	Titulo           string
	Mensagem         string
	Contexto         map[string]any
}

// Notifier creates and resolves notifications inside the current transaction.
type Notifier interface {
	Notify(ctx context.Context, req NotificationRequest) (uuid.UUID, error)
	ResolveByContext(ctx context.Context, key, value, actorCPF string) (int, error)
}

// ArtifactArchive stores rendered laudo bytes outside the database.
type ArtifactArchive interface {
	Archive(ctx context.Context, loteID int64, hash string, artifact io.Reader, size int64) (string, error)
	DownloadURL(ctx context.Context, key string) (string, time.Time, error)
	Remove(ctx context.Context, key string) error
}
