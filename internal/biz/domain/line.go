package domain

// Line is the workspace/channel scope contacts belong to
type Line struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	Name        string `json:"name"`
	Phone       string `json:"phone,omitempty"`
	Status      string `json:"status,omitempty"`
}

// OutboundMessage is a message the dashboard asks the remote side to deliver
type OutboundMessage struct {
	ClientID  string      `json:"clientId,omitempty"`
	ContactID string      `json:"contactId"`
	LineID    string      `json:"lineId,omitempty"`
	Message   string      `json:"message"`
	Sender    SenderKind  `json:"sender"`
	Type      MessageType `json:"type"`
}

// DeliveryAck is the payload of message-sent and message-error
type DeliveryAck struct {
	// ClientID echoes the id this process assigned to the message
	ClientID  string
	MessageID string
	ContactID string
	Error     string
}

// DecodeDeliveryAck accepts clientId/tempId for the local id and
// messageId/id for the id assigned by the remote side
func DecodeDeliveryAck(data []byte) (*DeliveryAck, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	ack := &DeliveryAck{
		ClientID:  identField(fields, "clientId"),
		MessageID: identField(fields, "messageId"),
		ContactID: identField(fields, "contactId"),
	}
	if ack.ClientID == "" {
		ack.ClientID = identField(fields, "tempId")
	}
	if ack.MessageID == "" {
		ack.MessageID = identField(fields, "id")
	}
	for _, key := range []string{"error", "message", "reason"} {
		if s := stringField(fields, key); s != nil {
			ack.Error = *s
			break
		}
	}
	return ack, nil
}
