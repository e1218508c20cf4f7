package biz

import (
	"github.com/pipeboard/contact-sync/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	Store      *usecase.ContactStore
	Reconcile  *usecase.ReconcileUsecase
	Optimistic *usecase.OptimisticUsecase
}
