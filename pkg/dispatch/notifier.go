package dispatch

// Kind classifies a Notification.
type Kind string

const (
	KindError      Kind = "error"
	KindTaskFailed Kind = "task_failed"
	KindChat       Kind = "chat"
)

// Notification is a transient, user-visible message. It never changes table state.
type Notification struct {
	Kind    Kind
	Message string

	Code        int
	TaskID      string
	Role        string
	ContentType string
}

type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}
