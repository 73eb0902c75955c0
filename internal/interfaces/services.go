package interfaces

import (
	"context"

	"github.com/ternarybob/tego/internal/models/arxlet"
	"github.com/ternarybob/tego/internal/models/flaskdp"
	"github.com/ternarybob/tego/internal/models/misp"
	"github.com/ternarybob/tego/internal/models/tmb"
)

// ARXletService - statistical disclosure control through a remote ARXlet instance
type ARXletService interface {
	// AnonymizeAttributes submits free-standing attribute values with
	// their generalization hierarchies. Returns the anonymized values in
	// input order, or nil if ARXlet rejected the request.
	AnonymizeAttributes(ctx context.Context, request *arxlet.AttributeRequest) ([]string, error)

	// AnonymizeObjects submits quasi-identifier record groups. Returns
	// one anonymized attribute row per input record, or nil if ARXlet
	// rejected the request.
	AnonymizeObjects(ctx context.Context, request *arxlet.ObjectRequest) ([][]arxlet.Attribute, error)
}

// FlaskDPService - differential privacy noise addition through a remote FlaskDP instance
type FlaskDPService interface {
	// Apply perturbs every item in the request server-side. Returns nil
	// if FlaskDP rejected the request.
	Apply(ctx context.Context, request *flaskdp.Request) (*flaskdp.Response, error)
}

// MISPService - event exchange with a MISP threat sharing instance
type MISPService interface {
	// PostEvent uploads an event, optionally publishing it. Returns
	// false when MISP reported an error for the upload.
	PostEvent(ctx context.Context, event *misp.Event, publish bool) (bool, error)

	// GetEvent retrieves an event by id, or nil if it does not exist.
	GetEvent(ctx context.Context, eventID string) (*misp.Event, error)

	Close() error
}

// MQTTPublisher - broker publication for anonymized payloads
type MQTTPublisher interface {
	Publish(ctx context.Context, topic string, payload any) error
	Close() error
}

// DLTService - audit summary publication to the TMB distributed ledger
type DLTService interface {
	// Subscribe registers this client on the ledger channel. Subscribing
	// twice is not an error.
	Subscribe(ctx context.Context) error

	// PublishEventSummary records an aggregated audit summary on the
	// ledger, subscribing first if needed.
	PublishEventSummary(ctx context.Context, summary *tmb.EventSummary) error
}
