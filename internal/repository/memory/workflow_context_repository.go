package memory

import (
	"bioai-workspace-be/internal/entity"

	"github.com/patrickmn/go-cache"
)

// WorkflowContextRepository holds the contexts of running workflows. Entries
// never expire; the tracker evicts them on completion.
type WorkflowContextRepository struct {
	cache *cache.Cache
}

func NewWorkflowContextRepository() *WorkflowContextRepository {
	return &WorkflowContextRepository{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func (r *WorkflowContextRepository) Save(wc *entity.WorkflowContext) {
	r.cache.Set(wc.WorkflowId, wc, cache.NoExpiration)
}

func (r *WorkflowContextRepository) Get(workflowID string) (*entity.WorkflowContext, bool) {
	if x, found := r.cache.Get(workflowID); found {
		return x.(*entity.WorkflowContext), true
	}
	return nil, false
}

func (r *WorkflowContextRepository) Delete(workflowID string) {
	r.cache.Delete(workflowID)
}

func (r *WorkflowContextRepository) Count() int {
	return r.cache.ItemCount()
}
