package repo

import "context"

// Notifier raises operator alerts
type Notifier interface {
	Alert(ctx context.Context, title, text string) error
}
