package jobs

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/interfaces"
	"github.com/ternarybob/tego/internal/models"
)

// fakeContextStore records every interaction and serves canned requests.
type fakeContextStore struct {
	stored   []*models.Request
	recorded []*models.Request
	queries  []interfaces.ContextQuery
}

func (f *fakeContextStore) Lookup(_ context.Context, query interfaces.ContextQuery) ([]*models.Request, error) {
	f.queries = append(f.queries, query)
	return f.stored, nil
}

func (f *fakeContextStore) Record(_ context.Context, request *models.Request) error {
	f.recorded = append(f.recorded, request)
	return nil
}

func (f *fakeContextStore) Close() error { return nil }

// fakeAuditStore keeps audit records in a plain map.
type fakeAuditStore struct {
	audits map[float64]models.Audit
}

func newFakeAuditStore() *fakeAuditStore {
	return &fakeAuditStore{audits: make(map[float64]models.Audit)}
}

func (f *fakeAuditStore) LogAudit(_ context.Context, audit models.Audit, timestamp float64) (float64, error) {
	f.audits[timestamp] = audit
	return timestamp, nil
}

func (f *fakeAuditStore) RemoveAudit(_ context.Context, timestamp float64) (models.Audit, error) {
	audit, ok := f.audits[timestamp]
	if !ok {
		return nil, nil
	}
	delete(f.audits, timestamp)
	return audit, nil
}

func (f *fakeAuditStore) UpdateAudit(_ context.Context, timestamp float64, fn func(models.Audit) models.Audit) (bool, error) {
	audit, ok := f.audits[timestamp]
	if !ok {
		return false, nil
	}
	f.audits[timestamp] = fn(audit)
	return true, nil
}

func (f *fakeAuditStore) GetAudits(_ context.Context, from, until float64) ([]models.Audit, error) {
	out := make([]models.Audit, 0, len(f.audits))
	for ts, audit := range f.audits {
		if ts >= from && ts <= until {
			out = append(out, audit)
		}
	}
	return out, nil
}

func (f *fakeAuditStore) Close() error { return nil }

// fakePublisher captures the published payloads.
type fakePublisher struct {
	cfg      common.MQTTConfig
	topics   []string
	payloads []any
	closed   bool
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

// newTestDeps wires the job dependencies over fakes and a temporary key
// directory.
func newTestDeps(t *testing.T) (*Dependencies, *fakeContextStore, *fakeAuditStore, *fakePublisher) {
	t.Helper()
	contexts := &fakeContextStore{}
	audits := newFakeAuditStore()
	publisher := &fakePublisher{}
	deps := NewDependencies(common.NewDefaultConfig(), contexts, audits)
	deps.Publisher = func(_ context.Context, cfg common.MQTTConfig, _ arbor.ILogger) (interfaces.MQTTPublisher, error) {
		publisher.cfg = cfg
		return publisher, nil
	}
	deps.PGPKeyDir = t.TempDir()
	return deps, contexts, audits, publisher
}

// anonEnv builds an environment whose data model holds the given
// components.
func anonEnv(data ...models.Component) *engine.Env {
	env := engine.NewEnv()
	env.Set(engine.EnvData, models.NewRequest(data))
	return env
}

// familyAttribute builds an attribute tagged for every anonymization
// family plus the given types.
func familyAttribute(name, value string, types ...string) *models.Attribute {
	all := append([]string{
		models.DefaultAttributeType,
		models.TypeAnonymizableByARXlet,
		models.TypeAnonymizableByFlaskDP,
		models.TypeAnonymizableByLocal,
	}, types...)
	return models.NewAttribute(name, value, all...)
}

// familyObject builds an object tagged for every anonymization family
// plus the given types.
func familyObject(name string, members []models.Component, types ...string) *models.Object {
	all := append([]string{
		models.DefaultObjectType,
		models.TypeAnonymizableByARXlet,
		models.TypeAnonymizableByFlaskDP,
		models.TypeAnonymizableByLocal,
	}, types...)
	return models.NewObject(name, members, all...)
}

// staticHierarchy builds a static ladder hierarchy for one attribute.
func staticHierarchy(name string, ladder ...string) models.HierarchyAttribute {
	return models.HierarchyAttribute{
		AttributeName: name,
		AttributeType: models.HierarchyKindStatic,
		AttributeGeneralization: []models.AttributeGeneralization{
			{Generalization: ladder},
		},
	}
}
