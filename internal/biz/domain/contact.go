package domain

import "slices"

// SenderKind identifies who authored a message
type SenderKind string

const (
	SenderUser  SenderKind = "user"
	SenderBot   SenderKind = "bot"
	SenderAgent SenderKind = "agent"
)

// IsValid reports whether k is a known sender kind
func (k SenderKind) IsValid() bool {
	switch k {
	case SenderUser, SenderBot, SenderAgent:
		return true
	}
	return false
}

// LastMessage is the embedded snapshot of a contact's most recent message (value object)
type LastMessage struct {
	Text      string     `json:"text"`
	Timestamp string     `json:"timestamp"`
	Sender    SenderKind `json:"sender"`
}

// Contact represents a synchronized customer/lead record
type Contact struct {
	ID             string       `json:"id"`
	LineID         string       `json:"lineId,omitempty"`
	Phone          string       `json:"phone"`
	DisplayName    string       `json:"displayName"`
	FunnelStage    string       `json:"funnelStage"`
	Priority       string       `json:"priority"`
	AIEnabled      bool         `json:"aiEnabled"`
	Tags           []string     `json:"tags"`
	LastActivityAt string       `json:"lastActivityAt,omitempty"`
	LastMessage    *LastMessage `json:"lastMessage,omitempty"`

	// Status is derived from FunnelStage; never set it directly
	Status Status `json:"status"`

	// LastUpdate is a local change marker for views, never sent upstream
	LastUpdate uint64 `json:"lastUpdate"`
}

// Clone returns a deep copy
func (c *Contact) Clone() *Contact {
	if c == nil {
		return nil
	}
	out := *c
	out.Tags = slices.Clone(c.Tags)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

// Derive recomputes the derived status
func (c *Contact) Derive() {
	c.Status = DeriveStatus(c.FunnelStage)
}

// ContactPatch is a partial set of contact fields. A nil field is absent and
// must never overwrite the existing value.
type ContactPatch struct {
	Phone          *string
	DisplayName    *string
	FunnelStage    *string
	Priority       *string
	AIEnabled      *bool
	Tags           []string
	LastActivityAt *string
	LastMessage    *LastMessage

	// TagsSet distinguishes "tags: []" from an absent tags field
	TagsSet bool

	// clearLastMessage restores an absent snapshot on rollback
	clearLastMessage bool
}

// IsEmpty reports whether the patch carries no fields
func (p ContactPatch) IsEmpty() bool {
	return p.Phone == nil && p.DisplayName == nil && p.FunnelStage == nil &&
		p.Priority == nil && p.AIEnabled == nil && !p.hasTags() &&
		p.LastActivityAt == nil && p.LastMessage == nil && !p.clearLastMessage
}

func (p ContactPatch) hasTags() bool {
	return p.TagsSet || p.Tags != nil
}

// Apply overwrites the fields present in p. LastMessage replaces the whole
// snapshot. Status is re-derived afterwards.
func (c *Contact) Apply(p ContactPatch) {
	if p.Phone != nil {
		c.Phone = *p.Phone
	}
	if p.DisplayName != nil {
		c.DisplayName = *p.DisplayName
	}
	if p.FunnelStage != nil {
		c.FunnelStage = *p.FunnelStage
	}
	if p.Priority != nil {
		c.Priority = *p.Priority
	}
	if p.AIEnabled != nil {
		c.AIEnabled = *p.AIEnabled
	}
	if p.hasTags() {
		c.Tags = slices.Clone(p.Tags)
		if c.Tags == nil {
			c.Tags = []string{}
		}
	}
	if p.LastActivityAt != nil {
		c.LastActivityAt = *p.LastActivityAt
	}
	if p.LastMessage != nil {
		lm := *p.LastMessage
		c.LastMessage = &lm
	} else if p.clearLastMessage {
		c.LastMessage = nil
	}
	c.Derive()
}

// Capture returns the current values of exactly the fields present in p,
// suitable for restoring them later with Apply.
func (c *Contact) Capture(p ContactPatch) ContactPatch {
	var prev ContactPatch
	if p.Phone != nil {
		prev.Phone = ptr(c.Phone)
	}
	if p.DisplayName != nil {
		prev.DisplayName = ptr(c.DisplayName)
	}
	if p.FunnelStage != nil {
		prev.FunnelStage = ptr(c.FunnelStage)
	}
	if p.Priority != nil {
		prev.Priority = ptr(c.Priority)
	}
	if p.AIEnabled != nil {
		prev.AIEnabled = ptr(c.AIEnabled)
	}
	if p.hasTags() {
		prev.Tags = slices.Clone(c.Tags)
		prev.TagsSet = true
	}
	if p.LastActivityAt != nil {
		prev.LastActivityAt = ptr(c.LastActivityAt)
	}
	if p.LastMessage != nil {
		if c.LastMessage != nil {
			lm := *c.LastMessage
			prev.LastMessage = &lm
		} else {
			prev.clearLastMessage = true
		}
	}
	return prev
}

func ptr[T any](v T) *T {
	return &v
}

// String returns a pointer to s, for building patches
func String(s string) *string {
	return &s
}

// Bool returns a pointer to b, for building patches
func Bool(b bool) *bool {
	return &b
}
