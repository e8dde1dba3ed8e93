package store

import "time"

const (
	GroupKindPersonal = "personal"
	GroupKindPerson   = "person"
	GroupKindInvite   = "invite"
)

type User struct {
	ID              string
	Email           string
	DisplayName     string
	PersonalGroupID string
	CreatedAt       time.Time
}

type Group struct {
	ID            string
	Kind          string
	ParentGroupID string
	PersonID      string
	// Role granted to whoever joins through an invite group.
	Role      string
	CreatedBy string
	CreatedAt time.Time
}

type GroupMember struct {
	GroupID     string
	UserID      string
	Role        string
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

type Person struct {
	ID        string
	GroupID   string
	Name      string
	Summary   string
	AvatarKey string
	Inactive  bool
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Note struct {
	ID        string
	PersonID  string
	Content   string
	Pinned    bool
	ImageKeys []string
	Inactive  bool
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Repeat struct {
	Interval int
	Unit     string
}

type Reminder struct {
	ID       string
	PersonID string
	Text     string
	// DueAtDate is a calendar date, YYYY-MM-DD.
	DueAtDate string
	Repeat    *Repeat
	Done      bool
	Inactive  bool
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type NotificationSettings struct {
	UserID           string
	Timezone         string
	NotificationTime string
	Language         string
	LastDeliveredAt  *time.Time
	UpdatedAt        time.Time
}

type PushDevice struct {
	ID         string
	UserID     string
	Endpoint   string
	P256dh     string
	Auth       string
	DeviceName string
	IsEnabled  bool
	CreatedAt  time.Time
}

type Invite struct {
	ID            string
	GroupID       string
	ParentGroupID string
	PersonID      string
	Role          string
	Email         string
	SecretHash    string
	CreatedBy     string
	CreatedAt     time.Time
	AcceptedAt    *time.Time
	AcceptedBy    string
	RevokedAt     *time.Time
}

type AssistantMessage struct {
	ID        string
	UserID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

// PurgeResult lists what a hard delete removed, including object keys that
// still need to be dropped from blob storage. The id lists also cover notes
// and reminders removed together with their person.
type PurgeResult struct {
	People      int64
	Notes       int64
	Reminders   int64
	BlobKeys    []string
	PersonIDs   []string
	NoteIDs     []string
	ReminderIDs []string
}

func (r PurgeResult) Total() int64 {
	return r.People + r.Notes + r.Reminders
}
