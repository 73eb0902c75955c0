package jobs

import (
	"context"

	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/interfaces"
)

// StoreRequest records the current data model in the context store, making
// it available as anonymization context for later requests.
type StoreRequest struct {
	engine.BaseJob
	contexts interfaces.ContextStore
}

// NewStoreRequestFactory builds the StoreRequest factory over a context
// store.
func NewStoreRequestFactory(contexts interfaces.ContextStore) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &StoreRequest{
			BaseJob:  engine.NewBaseJob(name, env, args),
			contexts: contexts,
		}
	}
}

// Run records the data model.
func (j *StoreRequest) Run(ctx context.Context, _ engine.Args) (any, error) {
	data, err := j.Data()
	if err != nil {
		return nil, err
	}
	if err := j.contexts.Record(ctx, data); err != nil {
		return nil, engine.WrapJobError(err, "unable to record the request into the context store")
	}
	return nil, nil
}
