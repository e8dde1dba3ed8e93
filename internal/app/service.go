package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"tilly/api/internal/assistant"
	"tilly/api/internal/auth"
	"tilly/api/internal/cleanup"
	"tilly/api/internal/config"
	"tilly/api/internal/email"
	"tilly/api/internal/export"
	"tilly/api/internal/metrics"
	"tilly/api/internal/push"
	"tilly/api/internal/rbac"
	"tilly/api/internal/search"
	"tilly/api/internal/store"
	"tilly/api/internal/util"
)

// Session is the authenticated caller of one request.
type Session struct {
	UserID          string
	Email           string
	Name            string
	PersonalGroupID string
}

type dataStore interface {
	Ping(context.Context) error
	EnsureUser(context.Context, store.User, string) (store.User, bool, error)
	GetUser(context.Context, string) (store.User, error)
	AccessibleGroupIDs(context.Context, string) ([]string, error)

	GetGroup(context.Context, string) (store.Group, error)
	EffectiveRoles(context.Context, string, string) ([]string, error)
	GetMemberRole(context.Context, string, string) (string, error)
	ListGroupMembers(context.Context, string) ([]store.GroupMember, error)
	RemoveGroupMember(context.Context, string, string) error
	CountGroupAdmins(context.Context, string) (int, error)
	SetMemberRole(context.Context, string, string, string) error

	InsertPerson(context.Context, store.Person) error
	GetPerson(context.Context, string) (store.Person, error)
	UpdatePerson(context.Context, store.Person) (store.Person, error)
	ListPeopleForUser(context.Context, string) ([]store.Person, error)

	InsertNote(context.Context, store.Note) error
	GetNote(context.Context, string, string) (store.Note, error)
	UpdateNote(context.Context, store.Note) (store.Note, error)
	ListNotesForPerson(context.Context, string) ([]store.Note, error)
	ListNotesForUser(context.Context, string) ([]store.Note, error)

	InsertReminder(context.Context, store.Reminder) error
	GetReminder(context.Context, string, string) (store.Reminder, error)
	UpdateReminder(context.Context, store.Reminder) (store.Reminder, error)
	ListRemindersForPerson(context.Context, string) ([]store.Reminder, error)
	ListRemindersForUser(context.Context, string) ([]store.Reminder, error)

	MovePersonToGroup(context.Context, string, store.Group, store.GroupMember) error
	CreateInvite(context.Context, store.Group, store.Invite) error
	GetInvite(context.Context, string) (store.Invite, error)
	ListPendingInvites(context.Context, string) ([]store.Invite, error)
	AcceptInvite(context.Context, store.Invite, string, string, time.Time) error
	RevokeInvite(context.Context, store.Invite, time.Time) error

	GetNotificationSettings(context.Context, string) (store.NotificationSettings, error)
	UpsertNotificationSettings(context.Context, store.NotificationSettings) (store.NotificationSettings, error)
	UpsertPushDevice(context.Context, store.PushDevice) (store.PushDevice, error)
	ListPushDevices(context.Context, string) ([]store.PushDevice, error)
	DeletePushDevice(context.Context, string, string) error

	InsertAssistantMessage(context.Context, store.AssistantMessage) (store.AssistantMessage, error)
	ListAssistantMessages(context.Context, string, int) ([]store.AssistantMessage, error)
	DeleteAssistantMessages(context.Context, string) (int64, error)
}

type identityVerifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

type blobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	RemoveObjects(ctx context.Context, keys []string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Ping(ctx context.Context) error
}

type sharedCache interface {
	IncrementUsage(ctx context.Context, userID, day string) (int64, error)
	Usage(ctx context.Context, userID, day string) (int64, error)
	Ping(ctx context.Context) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	Backend() string
	IndexPerson(search.PersonRecord)
	IndexNote(search.NoteRecord)
	IndexReminder(search.ReminderRecord)
	Remove(search.ResultType, string)
}

type inviteMailer interface {
	IsConfigured() bool
	SendInvite(to string, data email.InviteData) error
}

type notifier interface {
	Configured() bool
	Run(ctx context.Context, now time.Time) (push.Summary, error)
	SendProbe(ctx context.Context, userID, language string) (int, error)
}

type maintenanceRunner interface {
	RunForUser(ctx context.Context, userID string, now time.Time) (cleanup.Report, error)
}

// Deps wires the service. Store, Verifier and Cache are required; every
// other field may be left nil, which disables the matching feature.
type Deps struct {
	Store     dataStore
	Verifier  identityVerifier
	Cache     sharedCache
	Blobs     blobStore
	Search    searchIndex
	Mailer    inviteMailer
	Notifier  notifier
	Assistant assistant.Completer
	Cleanup   maintenanceRunner
	Metrics   *metrics.Metrics
}

type Service struct {
	cfg       config.Config
	store     dataStore
	verifier  identityVerifier
	cache     sharedCache
	blobs     blobStore
	search    searchIndex
	mailer    inviteMailer
	notifier  notifier
	assistant assistant.Completer
	cleanup   maintenanceRunner
	exporter  *export.Service
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		verifier:  deps.Verifier,
		cache:     deps.Cache,
		blobs:     deps.Blobs,
		search:    deps.Search,
		mailer:    deps.Mailer,
		notifier:  deps.Notifier,
		assistant: deps.Assistant,
		cleanup:   deps.Cleanup,
		exporter:  export.NewService(deps.Store),
		metrics:   deps.Metrics,
		now:       time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness reports each backing service. Only the database is fatal.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	checks := map[string]any{}
	ok := true
	check := func(name string, err error, fatal bool) {
		if err == nil {
			checks[name] = map[string]any{"status": "ok"}
			return
		}
		checks[name] = map[string]any{"status": "error", "error": err.Error()}
		if fatal {
			ok = false
		}
	}
	check("database", s.store.Ping(ctx), true)
	if s.cache != nil {
		check("cache", s.cache.Ping(ctx), false)
	}
	if s.blobs != nil {
		check("storage", s.blobs.Ping(ctx), false)
	}
	if s.search != nil {
		checks["search"] = map[string]any{"status": "ok", "backend": s.search.Backend()}
	}
	return ok, checks
}

// SessionFromToken verifies a Clerk session token and makes sure the user
// row and personal group exist.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	if s.verifier == nil {
		return Session{}, auth.ErrUnauthenticated
	}
	identity, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return Session{}, err
	}
	user, created, err := s.store.EnsureUser(ctx, store.User{
		ID:          identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.Name,
	}, util.NewID(util.PrefixGroup))
	if err != nil {
		return Session{}, fmt.Errorf("ensure user: %w", err)
	}
	if created {
		logger(ctx).Info("user created", "userId", user.ID)
	}
	return Session{
		UserID:          user.ID,
		Email:           user.Email,
		Name:            user.DisplayName,
		PersonalGroupID: user.PersonalGroupID,
	}, nil
}

func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	searchBackend := ""
	if s.search != nil {
		searchBackend = s.search.Backend()
	}
	return map[string]any{
		"user": map[string]any{
			"id":              session.UserID,
			"email":           session.Email,
			"name":            session.Name,
			"personalGroupId": session.PersonalGroupID,
		},
		"features": map[string]any{
			"push":      s.notifier != nil && s.notifier.Configured(),
			"assistant": s.assistant != nil,
			"email":     s.mailer != nil && s.mailer.IsConfigured(),
			"storage":   s.blobs != nil,
			"search":    searchBackend,
		},
		"vapidPublicKey": s.cfg.VAPIDPublicKey,
	}, nil
}

// groupRole resolves the strongest role userID holds on groupID. Missing
// access is reported as not found so foreign IDs are not leaked.
func (s *Service) groupRole(ctx context.Context, userID, groupID string) (rbac.Role, error) {
	roles, err := s.store.EffectiveRoles(ctx, userID, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sql.ErrNoRows
	}
	if err != nil {
		return "", err
	}
	var best rbac.Role
	for _, role := range roles {
		best = rbac.Higher(best, rbac.Normalize(role))
	}
	return best, nil
}

// personAccess loads personID and checks that the caller may perform action
// on it.
func (s *Service) personAccess(ctx context.Context, session Session, personID string, action rbac.Action) (store.Person, rbac.Role, error) {
	person, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Person{}, "", notFound("Person")
		}
		return store.Person{}, "", fmt.Errorf("get person: %w", err)
	}
	role, err := s.groupRole(ctx, session.UserID, person.GroupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Person{}, "", notFound("Person")
		}
		return store.Person{}, "", err
	}
	if !rbac.Can(role, action) {
		return store.Person{}, "", forbidden()
	}
	return person, role, nil
}

// userNow returns now in the user's notification timezone.
func (s *Service) userNow(ctx context.Context, userID string) (time.Time, string) {
	settings, err := s.store.GetNotificationSettings(ctx, userID)
	if err != nil {
		return s.now().UTC(), "en"
	}
	return s.now().In(push.LoadLocation(settings.Timezone)), settings.Language
}

func (s *Service) userToday(ctx context.Context, userID string) string {
	now, _ := s.userNow(ctx, userID)
	return now.Format(time.DateOnly)
}

func trimmed(value string) string {
	return strings.TrimSpace(value)
}
