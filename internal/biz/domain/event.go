package domain

import (
	"encoding/json"
	"errors"
	"strings"
)

// Origin tells where a change came from
type Origin string

const (
	// OriginRemote marks changes pushed by the system of record
	OriginRemote Origin = "remote"
	// OriginLocal marks changes made by this process; they are terminal and
	// must never be submitted upstream again
	OriginLocal Origin = "local"
)

// Push transport event names
const (
	EventAuthenticate       = "authenticate"
	EventAuthenticated      = "authenticated"
	EventAuthError          = "auth-error"
	EventNewMessage         = "new-message"
	EventMessageSent        = "message-sent"
	EventMessageError       = "message-error"
	EventContactUpdated     = "contact-updated"
	EventContactDeleted     = "contact-deleted"
	EventDashboardUpdated   = "dashboard-updated"
	EventAnalyticsUpdated   = "analytics-updated"
	EventSubscribeContact   = "subscribe-contact"
	EventUnsubscribeContact = "unsubscribe-contact"
	EventSendMessage        = "send-message"
	EventPing               = "ping"
	EventPong               = "pong"
	EventDisconnect         = "disconnect"
)

// ErrNotAnObject is returned when an inbound payload is not a JSON object
var ErrNotAnObject = errors.New("payload is not a JSON object")

// ErrMissingID is returned for records that carry no identity
var ErrMissingID = errors.New("record has no id")

// UpdateEvent is a partial contact update
type UpdateEvent struct {
	ID        string
	ContactID string
	LineID    string
	Patch     ContactPatch
	Origin    Origin
}

// TargetID returns the identity carried by the event, preferring id over contactId
func (e *UpdateEvent) TargetID() string {
	if e.ID != "" {
		return e.ID
	}
	return e.ContactID
}

// MarshalJSON encodes the event in wire form (flat object)
func (e UpdateEvent) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if e.ID != "" {
		out["id"] = e.ID
	}
	if e.ContactID != "" {
		out["contactId"] = e.ContactID
	}
	if e.LineID != "" {
		out["lineId"] = e.LineID
	}
	for k, v := range e.Patch.wire() {
		out[k] = v
	}
	return json.Marshal(out)
}

// DecodeUpdateEvent decodes a contact-updated payload field by field. A field
// whose value has the wrong shape is treated as absent; only a payload that is
// not an object at all is an error.
func DecodeUpdateEvent(data []byte) (*UpdateEvent, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}

	evt := &UpdateEvent{Origin: OriginRemote}
	evt.ID = identField(fields, "id")
	evt.ContactID = identField(fields, "contactId")
	evt.LineID = identField(fields, "lineId")

	evt.Patch = decodePatch(fields)
	return evt, nil
}

// MarshalJSON encodes only the present fields
func (p ContactPatch) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.wire())
}

// UnmarshalJSON decodes field by field, ignoring fields of the wrong shape
func (p *ContactPatch) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return err
	}
	*p = decodePatch(fields)
	return nil
}

func (p ContactPatch) wire() map[string]any {
	out := map[string]any{}
	if p.Phone != nil {
		out["phone"] = *p.Phone
	}
	if p.DisplayName != nil {
		out["displayName"] = *p.DisplayName
	}
	if p.FunnelStage != nil {
		out["funnelStage"] = *p.FunnelStage
	}
	if p.Priority != nil {
		out["priority"] = *p.Priority
	}
	if p.AIEnabled != nil {
		out["aiEnabled"] = *p.AIEnabled
	}
	if p.hasTags() {
		tags := p.Tags
		if tags == nil {
			tags = []string{}
		}
		out["tags"] = tags
	}
	if p.LastActivityAt != nil {
		out["lastActivityAt"] = *p.LastActivityAt
	}
	if p.LastMessage != nil {
		out["lastMessage"] = p.LastMessage
	}
	return out
}

func decodePatch(fields map[string]json.RawMessage) ContactPatch {
	var p ContactPatch
	p.Phone = stringField(fields, "phone")
	p.DisplayName = stringField(fields, "displayName")
	if p.DisplayName == nil {
		p.DisplayName = stringField(fields, "name")
	}
	p.FunnelStage = stringField(fields, "funnelStage")
	p.Priority = stringField(fields, "priority")
	p.LastActivityAt = stringField(fields, "lastActivityAt")

	if raw, ok := fields["aiEnabled"]; ok {
		var b bool
		if json.Unmarshal(raw, &b) == nil {
			p.AIEnabled = &b
		}
	}
	if raw, ok := fields["tags"]; ok && !isNull(raw) {
		var tags []string
		if json.Unmarshal(raw, &tags) == nil {
			if tags == nil {
				tags = []string{}
			}
			p.Tags = tags
			p.TagsSet = true
		}
	}
	if raw, ok := fields["lastMessage"]; ok && !isNull(raw) {
		if lm, ok := decodeLastMessage(raw); ok {
			p.LastMessage = lm
		}
	}
	return p
}

func decodeLastMessage(raw json.RawMessage) (*LastMessage, bool) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, false
	}
	lm := &LastMessage{}
	if s := stringField(fields, "text"); s != nil {
		lm.Text = *s
	} else if s := stringField(fields, "message"); s != nil {
		lm.Text = *s
	}
	if s := stringField(fields, "timestamp"); s != nil {
		lm.Timestamp = *s
	}
	if s := stringField(fields, "sender"); s != nil {
		lm.Sender = SenderKind(*s)
	}
	return lm, true
}

// DecodeDeletionEvent extracts the deleted contact id
func DecodeDeletionEvent(data []byte) (string, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return "", err
	}
	if id := identField(fields, "id"); id != "" {
		return id, nil
	}
	return identField(fields, "contactId"), nil
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, ErrNotAnObject
	}
	return fields, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func stringField(fields map[string]json.RawMessage, key string) *string {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

// identField reads an identity that the remote side may send as a string or a number
func identField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// DecodeContact decodes a full contact record with the same tolerance as
// update events. Records without an id are rejected.
func DecodeContact(data []byte) (*Contact, error) {
	evt, err := DecodeUpdateEvent(data)
	if err != nil {
		return nil, err
	}
	if evt.TargetID() == "" {
		return nil, ErrMissingID
	}
	c := &Contact{ID: evt.TargetID(), LineID: evt.LineID, Tags: []string{}}
	c.Apply(evt.Patch)
	return c, nil
}
