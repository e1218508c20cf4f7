package data

import (
	"time"

	"github.com/pipeboard/contact-sync/internal/biz/repo"
	"github.com/pipeboard/contact-sync/internal/infra/feishu"
)

// Repositories contains all repositories
type Repositories struct {
	API      repo.ContactAPI
	Snapshot repo.SnapshotRepo
	Notifier repo.Notifier
}

// Options configures NewRepositories
type Options struct {
	API            APIConfig
	SnapshotDBPath string

	// Feishu alerts are disabled when FeishuClient is nil or AlertChatID is empty
	FeishuClient  *feishu.Client
	AlertChatID   string
	AlertInterval time.Duration
}

// NewRepositories creates all repositories
func NewRepositories(opts Options) (*Repositories, error) {
	snapshotRepo, err := NewSnapshotRepo(opts.SnapshotDBPath)
	if err != nil {
		return nil, err
	}

	notifier := NewLogNotifier()
	if opts.FeishuClient != nil && opts.AlertChatID != "" {
		notifier = NewFeishuNotifier(opts.FeishuClient, opts.AlertChatID, opts.AlertInterval)
	}

	return &Repositories{
		API:      NewContactAPI(opts.API),
		Snapshot: snapshotRepo,
		Notifier: notifier,
	}, nil
}

// Close releases repository resources
func (r *Repositories) Close() error {
	return r.Snapshot.Close()
}
