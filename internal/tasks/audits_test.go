package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/models"
	"github.com/ternarybob/tego/internal/models/tmb"
)

type auditWindow struct {
	from  float64
	until float64
}

type fakeAuditStore struct {
	audits  []models.Audit
	queries []auditWindow
	err     error
}

func (s *fakeAuditStore) LogAudit(_ context.Context, _ models.Audit, timestamp float64) (float64, error) {
	return timestamp, nil
}

func (s *fakeAuditStore) RemoveAudit(context.Context, float64) (models.Audit, error) {
	return nil, nil
}

func (s *fakeAuditStore) UpdateAudit(context.Context, float64, func(models.Audit) models.Audit) (bool, error) {
	return false, nil
}

func (s *fakeAuditStore) GetAudits(_ context.Context, from, until float64) ([]models.Audit, error) {
	s.queries = append(s.queries, auditWindow{from: from, until: until})
	if s.err != nil {
		return nil, s.err
	}
	return s.audits, nil
}

func (s *fakeAuditStore) Close() error { return nil }

type fakeDLT struct {
	summaries []*tmb.EventSummary
	err       error
}

func (d *fakeDLT) Subscribe(context.Context) error { return nil }

func (d *fakeDLT) PublishEventSummary(_ context.Context, summary *tmb.EventSummary) error {
	if d.err != nil {
		return d.err
	}
	d.summaries = append(d.summaries, summary)
	return nil
}

func newPublisher(t *testing.T, store *fakeAuditStore, dlt *fakeDLT) Definition {
	t.Helper()
	cfg := common.TMBConfig{URL: "http://tmb.example.org", Interval: 60}
	return NewPublishAudits(cfg, store, dlt, arbor.NewLogger())
}

func TestPublishAuditsSummarizesWindow(t *testing.T) {
	store := &fakeAuditStore{audits: []models.Audit{
		{
			models.AuditKeyEventType: "phishing",
			models.AuditKeySeverity:  1,
			models.AuditKeyTags:      []string{"tlp:amber", "osint"},
		},
		{
			// Decoded records carry float64 numbers and []any lists.
			models.AuditKeyEventType: "phishing",
			models.AuditKeySeverity:  float64(2),
			models.AuditKeyTags:      []any{"tlp:amber"},
		},
		{
			models.AuditKeyEventType: "malware",
			models.AuditKeySeverity:  4,
		},
	}}
	dlt := &fakeDLT{}
	def := newPublisher(t, store, dlt)

	if err := def.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dlt.summaries) != 1 {
		t.Fatalf("published %d summaries, want 1", len(dlt.summaries))
	}
	summary := dlt.summaries[0]
	if summary.Publisher != common.ServiceName {
		t.Errorf("publisher = %q, want %q", summary.Publisher, common.ServiceName)
	}
	if len(summary.EventTypes) != 2 || summary.EventTypes[0] != "malware" || summary.EventTypes[1] != "phishing" {
		t.Errorf("event types = %v", summary.EventTypes)
	}
	if len(summary.Tags) != 2 || summary.Tags[0] != "osint" || summary.Tags[1] != "tlp:amber" {
		t.Errorf("tags = %v", summary.Tags)
	}
	want := tmb.EventSeverity{High: 1, Medium: 1, Low: 1}
	if summary.Severity != want {
		t.Errorf("severity = %+v, want %+v", summary.Severity, want)
	}
	if !summary.StartDate.Before(summary.EndDate) {
		t.Errorf("window %v..%v is not ordered", summary.StartDate, summary.EndDate)
	}
}

func TestPublishAuditsQueriesOneIntervalBack(t *testing.T) {
	store := &fakeAuditStore{}
	def := newPublisher(t, store, &fakeDLT{})

	if err := def.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.queries) != 1 {
		t.Fatalf("store saw %d queries, want 1", len(store.queries))
	}
	window := store.queries[0]
	if width := window.until - window.from; width < 59 || width > 62 {
		t.Errorf("first window spans %.1f seconds, want about the interval", width)
	}
}

func TestPublishAuditsAdvancesEmptyWindow(t *testing.T) {
	store := &fakeAuditStore{}
	dlt := &fakeDLT{}
	def := newPublisher(t, store, dlt)

	for i := 0; i < 2; i++ {
		if err := def.Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}
	if len(dlt.summaries) != 0 {
		t.Errorf("published %d summaries for empty windows", len(dlt.summaries))
	}
	if store.queries[1].from < store.queries[0].until {
		t.Errorf("second window starts at %.3f, before the first ended at %.3f",
			store.queries[1].from, store.queries[0].until)
	}
}

func TestPublishAuditsRetriesFailedWindow(t *testing.T) {
	store := &fakeAuditStore{audits: []models.Audit{{models.AuditKeySeverity: 1}}}
	dlt := &fakeDLT{err: errors.New("ledger unreachable")}
	def := newPublisher(t, store, dlt)

	if err := def.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded with a failing ledger")
	}
	dlt.err = nil
	if err := def.Run(context.Background()); err != nil {
		t.Fatalf("Run after recovery: %v", err)
	}
	// The failed window was not advanced, so the retry covers it whole.
	if store.queries[1].from != store.queries[0].from {
		t.Errorf("retry window starts at %.3f, want %.3f",
			store.queries[1].from, store.queries[0].from)
	}
	if len(dlt.summaries) != 1 {
		t.Errorf("published %d summaries, want 1", len(dlt.summaries))
	}
}

func TestPublishAuditsStoreFailure(t *testing.T) {
	store := &fakeAuditStore{err: errors.New("store down")}
	def := newPublisher(t, store, &fakeDLT{})

	if err := def.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded with a failing store")
	}
}

func TestNewPublishAuditsDefaults(t *testing.T) {
	def := NewPublishAudits(common.TMBConfig{}, &fakeAuditStore{}, &fakeDLT{}, arbor.NewLogger())
	if def.Name != PublishAuditsName {
		t.Errorf("name = %q, want %q", def.Name, PublishAuditsName)
	}
	if !def.Periodic {
		t.Error("publisher task is not periodic")
	}
	if def.Interval != 24*time.Hour {
		t.Errorf("default interval = %v, want 24h", def.Interval)
	}
}
