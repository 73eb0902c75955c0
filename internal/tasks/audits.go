package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/interfaces"
	"github.com/ternarybob/tego/internal/models"
	"github.com/ternarybob/tego/internal/models/misp"
	"github.com/ternarybob/tego/internal/models/tmb"
)

// PublishAuditsName is the registry name of the audit publisher task.
const PublishAuditsName = "audits.PublishAudits"

// auditPublisher tracks the window of audit scores already published.
// A window that fails to publish is retried whole on the next run, so
// restarts and DLT outages lose nothing.
type auditPublisher struct {
	audits interfaces.AuditStore
	dlt    interfaces.DLTService
	logger arbor.ILogger

	mu    sync.Mutex
	since float64
}

// NewPublishAudits builds the periodic task that aggregates one audit
// window into an event summary and publishes it on the TMB ledger. The
// first window starts one interval in the past.
func NewPublishAudits(cfg common.TMBConfig, audits interfaces.AuditStore, dlt interfaces.DLTService, logger arbor.ILogger) Definition {
	interval := time.Duration(cfg.Interval) * time.Second
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	p := &auditPublisher{
		audits: audits,
		dlt:    dlt,
		logger: logger,
		since:  float64(time.Now().Add(-interval).UnixNano()) / float64(time.Second),
	}
	return Definition{
		Name:     PublishAuditsName,
		Periodic: true,
		Interval: interval,
		Run:      p.run,
	}
}

func (p *auditPublisher) run(ctx context.Context) error {
	until := float64(time.Now().UnixNano()) / float64(time.Second)
	p.mu.Lock()
	since := p.since
	p.mu.Unlock()

	records, err := p.audits.GetAudits(ctx, since, until)
	if err != nil {
		return fmt.Errorf("unable to read the audit window: %w", err)
	}
	if len(records) == 0 {
		p.logger.Debug().Msg("No audits in the window, skipping publication")
		p.advance(until)
		return nil
	}

	summary := summarize(records, since, until)
	if err := p.dlt.PublishEventSummary(ctx, summary); err != nil {
		return fmt.Errorf("unable to publish the audit summary: %w", err)
	}
	p.logger.Info().Int("audits", len(records)).Msg("Published audit summary to the DLT")
	p.advance(until)
	return nil
}

func (p *auditPublisher) advance(until float64) {
	p.mu.Lock()
	if until > p.since {
		p.since = until
	}
	p.mu.Unlock()
}

// summarize aggregates one window of audit records. Threat levels above
// medium all count as low, matching how MISP treats undefined levels.
func summarize(records []models.Audit, since, until float64) *tmb.EventSummary {
	types := make(map[string]struct{})
	tags := make(map[string]struct{})
	var severity tmb.EventSeverity
	for _, audit := range records {
		if eventType := audit.String(models.AuditKeyEventType); eventType != "" {
			types[eventType] = struct{}{}
		}
		for _, tag := range audit.Strings(models.AuditKeyTags) {
			tags[tag] = struct{}{}
		}
		switch audit.Int(models.AuditKeySeverity) {
		case misp.ThreatLevelHigh.Int():
			severity.High++
		case misp.ThreatLevelMedium.Int():
			severity.Medium++
		default:
			severity.Low++
		}
	}
	return &tmb.EventSummary{
		Publisher:  common.ServiceName,
		StartDate:  time.Unix(int64(since), 0).UTC(),
		EndDate:    time.Unix(int64(until), 0).UTC(),
		EventTypes: sortedKeys(types),
		Tags:       sortedKeys(tags),
		Severity:   severity,
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
