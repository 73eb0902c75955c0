package transformers

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ternarybob/tego/internal/models"
	"github.com/ternarybob/tego/internal/models/misp"
)

// anonymizableTags mark every lifted component as workable by each of the
// anonymization job families.
var anonymizableTags = []string{
	models.TypeAnonymizableByARXlet,
	models.TypeAnonymizableByFlaskDP,
	models.TypeAnonymizableByLocal,
}

// attributeTypes tags a lifted attribute: the default tag, the family tags
// and the MISP object relation.
func attributeTypes(att *misp.Attribute) []string {
	types := make([]string, 0, len(anonymizableTags)+2)
	types = append(types, models.DefaultAttributeType)
	types = append(types, anonymizableTags...)
	return append(types, att.ObjectRelation)
}

// objectTypes tags a lifted object: the default tag, the family tags and the
// MISP object name.
func objectTypes(obj *misp.Object) []string {
	types := make([]string, 0, len(anonymizableTags)+2)
	types = append(types, models.DefaultObjectType)
	types = append(types, anonymizableTags...)
	return append(types, obj.Name)
}

// objectName derives the stable component name of a MISP object, assigning a
// UUID first when the object came in without one.
func objectName(obj *misp.Object) string {
	if obj.UUID == "" {
		obj.UUID = uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", obj.Name, obj.UUID)
}

// attributeName derives the stable component name of a MISP attribute,
// assigning a UUID first when the attribute came in without one.
func attributeName(att *misp.Attribute) string {
	if att.UUID == "" {
		att.UUID = uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", att.ObjectRelation, att.UUID)
}

// MispTransformer lifts MISP anonymization events into the data model and
// writes anonymized values back into the event.
type MispTransformer struct{}

// Name implements interfaces.Transformer.
func (t *MispTransformer) Name() string { return NameMisp }

// DecodeBody parses and validates a MISP anonymization event.
func (t *MispTransformer) DecodeBody(raw []byte) (any, error) {
	var event misp.EventAnon
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, err
	}
	if err := event.PrivacyPolicy.Validate(); err != nil {
		return nil, fmt.Errorf("privacy policy: %w", err)
	}
	if err := event.HierarchyPolicy.Validate(); err != nil {
		return nil, fmt.Errorf("hierarchy policy: %w", err)
	}
	return &event, nil
}

// Transform lifts the event's objects and top-level attributes into a
// Request. Components missing a UUID are assigned one so their derived names
// stay stable across Transform and Update.
func (t *MispTransformer) Transform(body any) (*models.Request, error) {
	event, err := eventAnon(body)
	if err != nil {
		return nil, err
	}
	if event.Event.UUID == "" {
		event.Event.UUID = uuid.NewString()
	}
	data := make([]models.Component, 0, len(event.Event.Objects)+len(event.Event.Attributes))
	for i := range event.Event.Objects {
		obj := &event.Event.Objects[i]
		members := make([]models.Component, 0, len(obj.Attributes))
		for k := range obj.Attributes {
			att := &obj.Attributes[k]
			members = append(members, models.NewAttribute(attributeName(att),
				string(att.Value), attributeTypes(att)...))
		}
		data = append(data, models.NewObject(objectName(obj), members, objectTypes(obj)...))
	}
	for i := range event.Event.Attributes {
		att := &event.Event.Attributes[i]
		data = append(data, models.NewAttribute(attributeName(att),
			string(att.Value), attributeTypes(att)...))
	}
	return models.NewRequest(data), nil
}

// Update copies anonymized values from the Request back into the event.
// Every event component must still resolve to a data component; a missing
// counterpart fails the update.
func (t *MispTransformer) Update(body any, data *models.Request) (bool, error) {
	event, err := eventAnon(body)
	if err != nil {
		return false, err
	}
	updated := false
	for i := range event.Event.Objects {
		obj := &event.Event.Objects[i]
		objData := findObject(data.TypesGet(objectTypes(obj)...), objectName(obj))
		if objData == nil {
			return false, fmt.Errorf("unable to find data for object %q with UUID %q",
				obj.Name, obj.UUID)
		}
		for k := range obj.Attributes {
			att := &obj.Attributes[k]
			attData := findAttribute(objData.TypesGet(attributeTypes(att)...), attributeName(att))
			if attData == nil {
				return false, fmt.Errorf("unable to find data for object attribute %q with UUID %q",
					att.ObjectRelation, att.UUID)
			}
			if string(att.Value) != attData.Value {
				updated = true
				att.Value = misp.FlexString(attData.Value)
			}
		}
	}
	for i := range event.Event.Attributes {
		att := &event.Event.Attributes[i]
		attData := findAttribute(data.TypesGet(attributeTypes(att)...), attributeName(att))
		if attData == nil {
			return false, fmt.Errorf("unable to find data for attribute %q with UUID %q",
				att.ObjectRelation, att.UUID)
		}
		if string(att.Value) != attData.Value {
			updated = true
			att.Value = misp.FlexString(attData.Value)
		}
	}
	return updated, nil
}

// Snapshot records the audit-relevant event fields: tags, severity, date and
// event type, plus any extra audit fields supplied with the payload. A fresh
// UUID keeps otherwise identical audits distinct.
func (t *MispTransformer) Snapshot(body any) models.Audit {
	event, err := eventAnon(body)
	if err != nil {
		return models.Audit{}
	}
	tags := make([]string, 0, len(event.Event.Tags))
	for _, tag := range event.Event.Tags {
		tags = append(tags, tag.ID)
	}
	audit := models.Audit{
		models.AuditKeyUUID:      uuid.NewString(),
		models.AuditKeyTags:      tags,
		models.AuditKeySeverity:  event.Event.ThreatLevelID.Int(),
		models.AuditKeyDate:      event.Event.Date.Format("2006-01-02"),
		models.AuditKeyPublished: false,
		models.AuditKeyUploaded:  false,
	}
	for _, att := range event.Event.Attributes {
		if att.ObjectRelation == "event_type" {
			audit[models.AuditKeyEventType] = string(att.Value)
			break
		}
	}
	for key, value := range event.Audit {
		audit[key] = value
	}
	return audit
}

// eventAnon narrows the decoded body back to the MISP payload type.
func eventAnon(body any) (*misp.EventAnon, error) {
	event, ok := body.(*misp.EventAnon)
	if !ok {
		return nil, fmt.Errorf("body is not a MISP anonymization event: %T", body)
	}
	return event, nil
}

// findObject returns the named Object among the components, or nil.
func findObject(components []models.Component, name string) *models.Object {
	for _, component := range components {
		if obj, ok := component.(*models.Object); ok && obj.Name == name {
			return obj
		}
	}
	return nil
}

// findAttribute returns the named Attribute among the components, or nil.
func findAttribute(components []models.Component, name string) *models.Attribute {
	for _, component := range components {
		if att, ok := component.(*models.Attribute); ok && att.Name == name {
			return att
		}
	}
	return nil
}
