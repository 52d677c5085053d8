// Package signal talks to signal-cli running in JSON-RPC mode over
// stdin/stdout, and drives its device-link flow.
package signal

// Envelope is one received event pushed by signal-cli. At most one of
// the message fields is set.
type Envelope struct {
	Source       string `json:"source"`
	SourceNumber string `json:"sourceNumber"`
	SourceUUID   string `json:"sourceUuid"`
	SourceName   string `json:"sourceName"`
	SourceDevice int    `json:"sourceDevice"`
	Timestamp    int64  `json:"timestamp"`

	DataMessage    *DataMessage    `json:"dataMessage,omitempty"`
	TypingMessage  *TypingMessage  `json:"typingMessage,omitempty"`
	ReceiptMessage *ReceiptMessage `json:"receiptMessage,omitempty"`
}

// Sender returns the best address to reply to: the phone number when
// the sender shares it, otherwise the account UUID.
func (e *Envelope) Sender() string {
	switch {
	case e.SourceNumber != "":
		return e.SourceNumber
	case e.Source != "":
		return e.Source
	default:
		return e.SourceUUID
	}
}

// Text returns the message body, or "" for non-text envelopes.
func (e *Envelope) Text() string {
	if e.DataMessage == nil {
		return ""
	}
	return e.DataMessage.Message
}

// IsGroup reports whether the message was sent to a group.
func (e *Envelope) IsGroup() bool {
	return e.DataMessage != nil && e.DataMessage.GroupInfo != nil
}

// MessageTimestamp is the sender's timestamp for the data message,
// which identifies it for quotes and receipts.
func (e *Envelope) MessageTimestamp() int64 {
	if e.DataMessage != nil && e.DataMessage.Timestamp != 0 {
		return e.DataMessage.Timestamp
	}
	return e.Timestamp
}

// DataMessage is a normal text or media message.
type DataMessage struct {
	Timestamp        int64      `json:"timestamp"`
	Message          string     `json:"message"`
	ExpiresInSeconds int        `json:"expiresInSeconds"`
	GroupInfo        *GroupInfo `json:"groupInfo,omitempty"`
}

// GroupInfo identifies the group a message was sent to.
type GroupInfo struct {
	GroupID string `json:"groupId"`
	Type    string `json:"type"` // e.g., "DELIVER"
}

// TypingMessage indicates that a contact started or stopped typing.
type TypingMessage struct {
	Action    string `json:"action"` // "STARTED" or "STOPPED"
	Timestamp int64  `json:"timestamp"`
}

// ReceiptMessage is a delivery, read, or viewed receipt.
type ReceiptMessage struct {
	When       int64   `json:"when"`
	Type       string  `json:"type"`
	Timestamps []int64 `json:"timestamps"`
}

// Quote references an earlier message so a reply renders attached to
// it in Signal clients.
type Quote struct {
	Timestamp int64
	Author    string
	Text      string
}

type receiveNotification struct {
	Envelope Envelope `json:"envelope"`
}

type sendResult struct {
	Timestamp int64 `json:"timestamp"`
}
