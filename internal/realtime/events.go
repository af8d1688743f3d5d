package realtime

// Event names published by domain collaborators. Each name has its own
// payload schema; the client coherence table is keyed on these.
const (
	EventAnnouncementChanged      = "announcement:changed"
	EventSurveyBatchChanged       = "surveyBatch:changed"
	EventSurveyBatchStatusChanged = "surveyBatch:statusChanged"
	EventResponseQueueUpdated     = "responseQueue:updated"
	EventYouthChanged             = "youth:changed"
	EventSKOfficialChanged        = "skOfficial:changed"
	EventSKTermChanged            = "skTerm:changed"
	EventStaffChanged             = "staff:changed"
	EventAuditLogCreated          = "auditLog:created"
	EventUserNotification         = "user:notification"
)

// ChangeKind tags a Change payload.
type ChangeKind string

const (
	ChangeCreated       ChangeKind = "created"
	ChangeUpdated       ChangeKind = "updated"
	ChangeDeleted       ChangeKind = "deleted"
	ChangeStatusChanged ChangeKind = "statusChanged"
)

// Change is the payload shape shared by the *:changed events. Exactly one of
// Item, ID or Items is populated depending on the kind.
type Change struct {
	Type  ChangeKind `json:"type"`
	Item  any        `json:"item,omitempty"`
	ID    string     `json:"id,omitempty"`
	Items []any      `json:"items,omitempty"`
}

func Created(item any) Change {
	return Change{Type: ChangeCreated, Item: item}
}

func Updated(item any) Change {
	return Change{Type: ChangeUpdated, Item: item}
}

func Deleted(id string) Change {
	return Change{Type: ChangeDeleted, ID: id}
}

func StatusChanged(items ...any) Change {
	return Change{Type: ChangeStatusChanged, Items: items}
}
