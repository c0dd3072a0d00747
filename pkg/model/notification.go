package model

import "encoding/json"

// NotificationKind doubles as the outbound event type of the notification.
type NotificationKind string

const (
	BookingCreated   NotificationKind = "booking:new"
	BookingCancelled NotificationKind = "booking:cancelled"
	ComplaintCreated NotificationKind = "complaint:new"
	ComplaintUpdated NotificationKind = "complaint:updated"
)

func (k NotificationKind) Valid() bool {
	switch k {
	case BookingCreated, BookingCancelled, ComplaintCreated, ComplaintUpdated:
		return true
	}
	return false
}

// DomainNotification is produced by booking/complaint logic elsewhere and is
// only ever delivered live.
type DomainNotification struct {
	TargetUserID UserID           `json:"target_user_id" validate:"required"`
	Kind         NotificationKind `json:"kind" validate:"required"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
}

// Frame renders the notification as an outbound event.
func (n DomainNotification) Frame() Frame {
	return Frame{Type: EventType(n.Kind), Payload: n.Payload}
}
