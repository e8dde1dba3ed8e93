package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tilly/api/internal/assistant"
	"tilly/api/internal/auth"
	"tilly/api/internal/cleanup"
	"tilly/api/internal/config"
	"tilly/api/internal/email"
	"tilly/api/internal/push"
	"tilly/api/internal/search"
	"tilly/api/internal/store"
)

// memStore keeps every record in maps and mirrors the Postgres access rules:
// a user reaches a group through direct membership or through membership of
// an invite group whose parent it is.
type memStore struct {
	mu        sync.Mutex
	clock     time.Time
	pingErr   error
	users     map[string]store.User
	groups    map[string]store.Group
	members   map[string]map[string]string
	people    map[string]store.Person
	notes     map[string]store.Note
	reminders map[string]store.Reminder
	invites   map[string]store.Invite
	settings  map[string]store.NotificationSettings
	devices   map[string]store.PushDevice
	messages  []store.AssistantMessage
}

func newMemStore() *memStore {
	return &memStore{
		clock:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		users:     map[string]store.User{},
		groups:    map[string]store.Group{},
		members:   map[string]map[string]string{},
		people:    map[string]store.Person{},
		notes:     map[string]store.Note{},
		reminders: map[string]store.Reminder{},
		invites:   map[string]store.Invite{},
		settings:  map[string]store.NotificationSettings{},
		devices:   map[string]store.PushDevice{},
	}
}

// tick returns a strictly increasing timestamp so orderings are stable.
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) setMember(groupID, userID, role string) {
	if m.members[groupID] == nil {
		m.members[groupID] = map[string]string{}
	}
	m.members[groupID][userID] = role
}

func (m *memStore) accessible(userID string) map[string]bool {
	out := map[string]bool{}
	for groupID, members := range m.members {
		if _, ok := members[userID]; !ok {
			continue
		}
		out[groupID] = true
		if group := m.groups[groupID]; group.Kind == store.GroupKindInvite && group.ParentGroupID != "" {
			out[group.ParentGroupID] = true
		}
	}
	return out
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) EnsureUser(_ context.Context, user store.User, personalGroupID string) (store.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[user.ID]; ok {
		return existing, false, nil
	}
	user.PersonalGroupID = personalGroupID
	user.CreatedAt = m.tick()
	m.users[user.ID] = user
	m.groups[personalGroupID] = store.Group{ID: personalGroupID, Kind: store.GroupKindPersonal, Role: "admin", CreatedBy: user.ID, CreatedAt: user.CreatedAt}
	m.setMember(personalGroupID, user.ID, "admin")
	return user, true, nil
}

func (m *memStore) GetUser(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) AccessibleGroupIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for id := range m.accessible(userID) {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) GetGroup(_ context.Context, groupID string) (store.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.groups[groupID]
	if !ok {
		return store.Group{}, sql.ErrNoRows
	}
	return group, nil
}

func (m *memStore) EffectiveRoles(_ context.Context, userID, groupID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var roles []string
	if role, ok := m.members[groupID][userID]; ok {
		roles = append(roles, role)
	}
	for id, group := range m.groups {
		if group.ParentGroupID != groupID {
			continue
		}
		if _, ok := m.members[id][userID]; ok {
			roles = append(roles, group.Role)
		}
	}
	if len(roles) == 0 {
		return nil, sql.ErrNoRows
	}
	return roles, nil
}

func (m *memStore) GetMemberRole(_ context.Context, groupID, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.members[groupID][userID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return role, nil
}

func (m *memStore) ListGroupMembers(_ context.Context, groupID string) ([]store.GroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.GroupMember, 0)
	for userID, role := range m.members[groupID] {
		user := m.users[userID]
		out = append(out, store.GroupMember{GroupID: groupID, UserID: userID, Role: role, Email: user.Email, DisplayName: user.DisplayName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memStore) RemoveGroupMember(_ context.Context, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[groupID][userID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.members[groupID], userID)
	return nil
}

func (m *memStore) CountGroupAdmins(_ context.Context, groupID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, role := range m.members[groupID] {
		if role == "admin" {
			n++
		}
	}
	return n, nil
}

func (m *memStore) SetMemberRole(_ context.Context, groupID, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setMember(groupID, userID, role)
	return nil
}

func (m *memStore) InsertPerson(_ context.Context, item store.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = m.tick()
	item.UpdatedAt = item.CreatedAt
	m.people[item.ID] = item
	return nil
}

func (m *memStore) GetPerson(_ context.Context, personID string) (store.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	person, ok := m.people[personID]
	if !ok {
		return store.Person{}, sql.ErrNoRows
	}
	return person, nil
}

func (m *memStore) UpdatePerson(_ context.Context, item store.Person) (store.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.people[item.ID]
	if !ok {
		return store.Person{}, sql.ErrNoRows
	}
	item.CreatedAt = current.CreatedAt
	item.Inactive = current.Inactive
	item.UpdatedAt = m.tick()
	m.people[item.ID] = item
	return item, nil
}

func (m *memStore) ListPeopleForUser(_ context.Context, userID string) ([]store.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups := m.accessible(userID)
	out := make([]store.Person, 0)
	for _, person := range m.people {
		if groups[person.GroupID] {
			out = append(out, person)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *memStore) InsertNote(_ context.Context, item store.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = m.tick()
	item.UpdatedAt = item.CreatedAt
	m.notes[item.ID] = item
	return nil
}

func (m *memStore) GetNote(_ context.Context, personID, noteID string) (store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	note, ok := m.notes[noteID]
	if !ok || note.PersonID != personID {
		return store.Note{}, sql.ErrNoRows
	}
	return note, nil
}

func (m *memStore) UpdateNote(_ context.Context, item store.Note) (store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.notes[item.ID]
	if !ok {
		return store.Note{}, sql.ErrNoRows
	}
	item.CreatedAt = current.CreatedAt
	item.UpdatedAt = m.tick()
	m.notes[item.ID] = item
	return item, nil
}

func (m *memStore) ListNotesForPerson(_ context.Context, personID string) ([]store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Note, 0)
	for _, note := range m.notes {
		if note.PersonID == personID {
			out = append(out, note)
		}
	}
	return out, nil
}

func (m *memStore) ListNotesForUser(_ context.Context, userID string) ([]store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups := m.accessible(userID)
	out := make([]store.Note, 0)
	for _, note := range m.notes {
		if groups[m.people[note.PersonID].GroupID] {
			out = append(out, note)
		}
	}
	return out, nil
}

func (m *memStore) InsertReminder(_ context.Context, item store.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = m.tick()
	item.UpdatedAt = item.CreatedAt
	m.reminders[item.ID] = item
	return nil
}

func (m *memStore) GetReminder(_ context.Context, personID, reminderID string) (store.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reminder, ok := m.reminders[reminderID]
	if !ok || reminder.PersonID != personID {
		return store.Reminder{}, sql.ErrNoRows
	}
	return reminder, nil
}

func (m *memStore) UpdateReminder(_ context.Context, item store.Reminder) (store.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.reminders[item.ID]
	if !ok {
		return store.Reminder{}, sql.ErrNoRows
	}
	item.CreatedAt = current.CreatedAt
	item.UpdatedAt = m.tick()
	m.reminders[item.ID] = item
	return item, nil
}

func (m *memStore) ListRemindersForPerson(_ context.Context, personID string) ([]store.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Reminder, 0)
	for _, reminder := range m.reminders {
		if reminder.PersonID == personID {
			out = append(out, reminder)
		}
	}
	return out, nil
}

func (m *memStore) ListRemindersForUser(_ context.Context, userID string) ([]store.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups := m.accessible(userID)
	out := make([]store.Reminder, 0)
	for _, reminder := range m.reminders {
		if groups[m.people[reminder.PersonID].GroupID] {
			out = append(out, reminder)
		}
	}
	return out, nil
}

func (m *memStore) MovePersonToGroup(_ context.Context, personID string, group store.Group, owner store.GroupMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	person, ok := m.people[personID]
	if !ok {
		return sql.ErrNoRows
	}
	group.CreatedAt = m.tick()
	m.groups[group.ID] = group
	m.setMember(group.ID, owner.UserID, owner.Role)
	person.GroupID = group.ID
	m.people[personID] = person
	return nil
}

func (m *memStore) CreateInvite(_ context.Context, group store.Group, invite store.Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	group.CreatedAt = m.tick()
	invite.CreatedAt = group.CreatedAt
	m.groups[group.ID] = group
	m.invites[invite.ID] = invite
	return nil
}

func (m *memStore) GetInvite(_ context.Context, inviteID string) (store.Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invite, ok := m.invites[inviteID]
	if !ok {
		return store.Invite{}, sql.ErrNoRows
	}
	return invite, nil
}

func (m *memStore) ListPendingInvites(_ context.Context, parentGroupID string) ([]store.Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Invite, 0)
	for _, invite := range m.invites {
		if invite.ParentGroupID == parentGroupID && invite.AcceptedAt == nil && invite.RevokedAt == nil {
			out = append(out, invite)
		}
	}
	return out, nil
}

func (m *memStore) AcceptInvite(_ context.Context, invite store.Invite, userID, role string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.invites[invite.ID]
	if current.AcceptedAt != nil || current.RevokedAt != nil {
		return sql.ErrNoRows
	}
	m.setMember(invite.ParentGroupID, userID, role)
	current.AcceptedAt = &at
	current.AcceptedBy = userID
	m.invites[invite.ID] = current
	delete(m.groups, invite.GroupID)
	delete(m.members, invite.GroupID)
	return nil
}

func (m *memStore) RevokeInvite(_ context.Context, invite store.Invite, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.invites[invite.ID]
	if current.AcceptedAt != nil || current.RevokedAt != nil {
		return sql.ErrNoRows
	}
	current.RevokedAt = &at
	m.invites[invite.ID] = current
	delete(m.groups, invite.GroupID)
	delete(m.members, invite.GroupID)
	return nil
}

func (m *memStore) GetNotificationSettings(_ context.Context, userID string) (store.NotificationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	settings, ok := m.settings[userID]
	if !ok {
		return store.NotificationSettings{}, sql.ErrNoRows
	}
	return settings, nil
}

func (m *memStore) UpsertNotificationSettings(_ context.Context, item store.NotificationSettings) (store.NotificationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.settings[item.UserID]; ok {
		item.LastDeliveredAt = current.LastDeliveredAt
	}
	item.UpdatedAt = m.tick()
	m.settings[item.UserID] = item
	return item, nil
}

func (m *memStore) UpsertPushDevice(_ context.Context, item store.PushDevice) (store.PushDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, device := range m.devices {
		if device.Endpoint == item.Endpoint {
			item.ID = id
			item.CreatedAt = device.CreatedAt
		}
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.tick()
	}
	item.IsEnabled = true
	m.devices[item.ID] = item
	return item, nil
}

func (m *memStore) ListPushDevices(_ context.Context, userID string) ([]store.PushDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.PushDevice, 0)
	for _, device := range m.devices {
		if device.UserID == userID {
			out = append(out, device)
		}
	}
	return out, nil
}

func (m *memStore) DeletePushDevice(_ context.Context, userID, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.devices[deviceID]
	if !ok || device.UserID != userID {
		return sql.ErrNoRows
	}
	delete(m.devices, deviceID)
	return nil
}

func (m *memStore) InsertAssistantMessage(_ context.Context, item store.AssistantMessage) (store.AssistantMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = m.tick()
	m.messages = append(m.messages, item)
	return item, nil
}

func (m *memStore) ListAssistantMessages(_ context.Context, userID string, limit int) ([]store.AssistantMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.AssistantMessage, 0)
	for _, message := range m.messages {
		if message.UserID == userID {
			out = append(out, message)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) DeleteAssistantMessages(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	var deleted int64
	for _, message := range m.messages {
		if message.UserID == userID {
			deleted++
			continue
		}
		kept = append(kept, message)
	}
	m.messages = kept
	return deleted, nil
}

type fakeVerifier map[string]auth.Identity

func (f fakeVerifier) Verify(_ context.Context, token string) (auth.Identity, error) {
	identity, ok := f[token]
	if !ok {
		return auth.Identity{}, auth.ErrUnauthenticated
	}
	return identity, nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (f *fakeBlobs) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) RemoveObjects(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.objects, key)
		f.removed = append(f.removed, key)
	}
	return nil
}

func (f *fakeBlobs) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + key, nil
}

func (f *fakeBlobs) Ping(context.Context) error { return nil }

type fakeSearch struct {
	mu      sync.Mutex
	queries []search.Query
	people  map[string]search.PersonRecord
	indexed []string
	removed []string
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{people: map[string]search.PersonRecord{}}
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	allowed := map[string]bool{}
	for _, id := range q.GroupIDs {
		allowed[id] = true
	}
	results := make([]search.Result, 0)
	for _, person := range f.people {
		if allowed[person.GroupID] && bytes.Contains([]byte(person.Name), []byte(q.Text)) {
			results = append(results, search.Result{Type: search.ResultPerson, ID: person.ID, PersonID: person.ID, Title: person.Name})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeSearch) Backend() string { return "fake" }

func (f *fakeSearch) IndexPerson(record search.PersonRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.people[record.ID] = record
}

func (f *fakeSearch) IndexNote(record search.NoteRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, record.ID)
}

func (f *fakeSearch) IndexReminder(record search.ReminderRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, record.ID)
}

func (f *fakeSearch) Remove(_ search.ResultType, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.people, id)
	f.removed = append(f.removed, id)
}

type fakeMailer struct {
	sent []email.InviteData
	to   []string
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) SendInvite(to string, data email.InviteData) error {
	f.to = append(f.to, to)
	f.sent = append(f.sent, data)
	return nil
}

type fakeNotifier struct {
	summary push.Summary
	err     error
	probes  int
}

func (f *fakeNotifier) Configured() bool { return true }

func (f *fakeNotifier) Run(context.Context, time.Time) (push.Summary, error) {
	return f.summary, f.err
}

func (f *fakeNotifier) SendProbe(context.Context, string, string) (int, error) {
	f.probes++
	return 1, nil
}

type fakeCompleter struct {
	system string
	turns  []assistant.Turn
	reply  string
	err    error
}

func (f *fakeCompleter) Complete(_ context.Context, system string, turns []assistant.Turn) (string, error) {
	f.system = system
	f.turns = turns
	return f.reply, f.err
}

type fakeCleanup struct {
	userID string
	report cleanup.Report
}

func (f *fakeCleanup) RunForUser(_ context.Context, userID string, _ time.Time) (cleanup.Report, error) {
	f.userID = userID
	return f.report, nil
}

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func testConfig() config.Config {
	return config.Config{
		CORSOrigin:            "*",
		AppURL:                "https://tilly.test",
		InviteSecret:          "invite-secret",
		InviteTTL:             7 * 24 * time.Hour,
		CronSecret:            "cron-secret",
		AssistantDailyLimit:   2,
		AssistantHistoryLimit: 20,
	}
}

var testIdentities = fakeVerifier{
	"alice": {UserID: "user_alice", Email: "alice@example.com", Name: "Alice"},
	"bob":   {UserID: "user_bob", Email: "bob@example.com", Name: "Bob"},
	"carol": {UserID: "user_carol", Email: "carol@example.com", Name: "Carol"},
}

type testEnv struct {
	t     *testing.T
	store *memStore
	svc   *Service
	cfg   config.Config
}

func newTestEnv(t *testing.T, deps Deps) *testEnv {
	t.Helper()
	mem := newMemStore()
	deps.Store = mem
	if deps.Verifier == nil {
		deps.Verifier = testIdentities
	}
	cfg := testConfig()
	svc := New(cfg, deps)
	svc.now = func() time.Time { return testNow }
	return &testEnv{t: t, store: mem, svc: svc, cfg: cfg}
}

// do sends a JSON request as token's user and decodes the JSON response.
func (e *testEnv) do(method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.send(req)
}

func (e *testEnv) send(req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	e.t.Helper()
	rr := httptest.NewRecorder()
	NewHTTPServer(e.svc, e.cfg).Handler().ServeHTTP(rr, req)
	payload := map[string]any{}
	if ct := rr.Header().Get("Content-Type"); ct == "application/json" && rr.Body.Len() > 0 {
		require.NoError(e.t, json.Unmarshal(rr.Body.Bytes(), &payload), rr.Body.String())
	}
	return rr, payload
}

func (e *testEnv) session(token string) Session {
	e.t.Helper()
	session, err := e.svc.SessionFromToken(context.Background(), token)
	require.NoError(e.t, err)
	return session
}

// createPerson creates a person owned by token's user and returns its id.
func (e *testEnv) createPerson(token, name, summary string) string {
	e.t.Helper()
	rr, payload := e.do(http.MethodPost, "/api/people", token, map[string]any{"name": name, "summary": summary})
	require.Equal(e.t, http.StatusCreated, rr.Code, rr.Body.String())
	return object(e.t, payload, "person")["id"].(string)
}

func object(t *testing.T, payload map[string]any, key string) map[string]any {
	t.Helper()
	value, ok := payload[key].(map[string]any)
	require.True(t, ok, "expected object at %q in %v", key, payload)
	return value
}

func list(t *testing.T, payload map[string]any, key string) []any {
	t.Helper()
	value, ok := payload[key].([]any)
	require.True(t, ok, "expected array at %q in %v", key, payload)
	return value
}
