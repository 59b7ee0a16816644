package domain

const (
	NotificationUnread = "unread"
	NotificationRead   = "read"
)

// Notification is a message addressed to the signed-in user.
type Notification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	Status    string `json:"status"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	// Extra holds server attributes not modelled above.
	Extra map[string]any `json:"-"`
}

func (n *Notification) Kind() Kind         { return KindNotification }
func (n *Notification) ResourceID() string { return n.ID }

type notificationJSON Notification

var notificationKeys = jsonKeys(notificationJSON{})

func (n *Notification) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*notificationJSON)(n), notificationKeys)
	if err != nil {
		return err
	}
	n.Extra = extra
	return nil
}

func (n Notification) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(notificationJSON(n), n.Extra)
}

func (n *Notification) Clone() Resource {
	c := *n
	c.Extra = cloneExtra(n.Extra)
	return &c
}

// MarkNotificationRead returns a read copy of n.
func MarkNotificationRead(n *Notification) *Notification {
	next := n.Clone().(*Notification)
	next.Read = true
	next.Status = NotificationRead
	return next
}
