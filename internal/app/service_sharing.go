package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/mail"

	"tilly/api/internal/auth"
	"tilly/api/internal/email"
	"tilly/api/internal/rbac"
	"tilly/api/internal/store"
	"tilly/api/internal/util"
)

var (
	errInviteInvalid = domainError(http.StatusBadRequest, "INVITE_INVALID", "Invite link is invalid", nil)
	errInviteExpired = domainError(http.StatusGone, "INVITE_EXPIRED", "Invite link has expired", nil)
	errInviteRevoked = domainError(http.StatusGone, "INVITE_REVOKED", "Invite was revoked", nil)
	errInviteUsed    = domainError(http.StatusConflict, "INVITE_USED", "Invite was already accepted", nil)
	errLastAdmin     = domainError(http.StatusConflict, "LAST_ADMIN", "A shared person needs at least one admin", nil)
)

type InviteInput struct {
	Role  string `json:"role"`
	Email string `json:"email"`
}

func invitePayload(invite store.Invite) map[string]any {
	return map[string]any{
		"id":        invite.ID,
		"personId":  invite.PersonID,
		"role":      invite.Role,
		"email":     invite.Email,
		"createdBy": invite.CreatedBy,
		"createdAt": invite.CreatedAt,
	}
}

func memberPayload(member store.GroupMember) map[string]any {
	return map[string]any{
		"userId":    member.UserID,
		"email":     member.Email,
		"name":      member.DisplayName,
		"role":      member.Role,
		"createdAt": member.CreatedAt,
	}
}

// EnsurePersonGroup gives a person its own permission group. People in a
// personal group move into a fresh group with the caller as admin; people
// that already have one are left alone.
func (s *Service) EnsurePersonGroup(ctx context.Context, session Session, personID string) (store.Person, error) {
	person, _, err := s.personAccess(ctx, session, personID, rbac.ActionAdmin)
	if err != nil {
		return store.Person{}, err
	}
	group, err := s.store.GetGroup(ctx, person.GroupID)
	if err != nil {
		return store.Person{}, err
	}
	if group.Kind != store.GroupKindPersonal {
		return person, nil
	}
	next := store.Group{
		ID:        util.NewID(util.PrefixGroup),
		Kind:      store.GroupKindPerson,
		PersonID:  person.ID,
		Role:      string(rbac.RoleAdmin),
		CreatedBy: session.UserID,
	}
	owner := store.GroupMember{GroupID: next.ID, UserID: session.UserID, Role: string(rbac.RoleAdmin)}
	if err := s.store.MovePersonToGroup(ctx, person.ID, next, owner); err != nil {
		return store.Person{}, err
	}
	moved, err := s.store.GetPerson(ctx, person.ID)
	if err != nil {
		return store.Person{}, err
	}
	s.reindexPersonTree(ctx, moved)
	logger(ctx).Info("person moved to group", "personId", person.ID, "groupId", next.ID)
	return moved, nil
}

// reindexPersonTree refreshes the group id stored with the person's search
// documents after a move.
func (s *Service) reindexPersonTree(ctx context.Context, person store.Person) {
	if s.search == nil {
		return
	}
	s.indexPerson(person)
	if notes, err := s.store.ListNotesForPerson(ctx, person.ID); err == nil {
		for _, note := range notes {
			s.indexNote(person, note)
		}
	}
	if reminders, err := s.store.ListRemindersForPerson(ctx, person.ID); err == nil {
		for _, reminder := range reminders {
			s.indexReminder(person, reminder)
		}
	}
}

// CreateInvite issues an invite link for a person. The link carries the only
// copy of the secret; the store keeps its bcrypt hash.
func (s *Service) CreateInvite(ctx context.Context, session Session, personID string, input InviteInput) (map[string]any, error) {
	role := input.Role
	if role == "" {
		role = string(rbac.RoleWriter)
	}
	if role != string(rbac.RoleWriter) && role != string(rbac.RoleReader) {
		return nil, validationError("role must be writer or reader")
	}
	address := trimmed(input.Email)
	if address != "" {
		parsed, err := mail.ParseAddress(address)
		if err != nil {
			return nil, validationError("email is invalid")
		}
		address = parsed.Address
	}

	person, err := s.EnsurePersonGroup(ctx, session, personID)
	if err != nil {
		return nil, err
	}
	secret := util.RandomHex(24)
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return nil, err
	}
	group := store.Group{
		ID:            util.NewID(util.PrefixGroup),
		Kind:          store.GroupKindInvite,
		ParentGroupID: person.GroupID,
		PersonID:      person.ID,
		Role:          role,
		CreatedBy:     session.UserID,
	}
	invite := store.Invite{
		ID:            util.NewID(util.PrefixInvite),
		GroupID:       group.ID,
		ParentGroupID: person.GroupID,
		PersonID:      person.ID,
		Role:          role,
		Email:         address,
		SecretHash:    hash,
		CreatedBy:     session.UserID,
	}
	if err := s.store.CreateInvite(ctx, group, invite); err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.InviteTTL)
	token, err := auth.IssueInviteToken([]byte(s.cfg.InviteSecret), auth.InviteClaims{
		InviteID: invite.ID,
		GroupID:  group.ID,
		Secret:   secret,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return nil, err
	}
	link := s.cfg.AppURL + "/invite#" + token

	emailSent := false
	if address != "" && s.mailer != nil && s.mailer.IsConfigured() {
		_, language := s.userNow(ctx, session.UserID)
		err := s.mailer.SendInvite(address, email.InviteData{
			InviterName: firstNonEmpty(session.Name, session.Email),
			PersonName:  person.Name,
			InviteURL:   link,
			Role:        role,
			Language:    language,
		})
		if err != nil {
			logger(ctx).Warn("invite email failed", "inviteId", invite.ID, "err", err)
		} else {
			emailSent = true
		}
	}
	logger(ctx).Info("invite created", "inviteId", invite.ID, "personId", person.ID, "role", role)

	invite.CreatedAt = now.UTC()
	payload := invitePayload(invite)
	payload["link"] = link
	payload["expiresAt"] = expiresAt.UTC()
	payload["emailSent"] = emailSent
	return map[string]any{"invite": payload}, nil
}

// AcceptInvite joins the caller to the invited person's group. Accepting the
// same invite twice as the same user is a no-op.
func (s *Service) AcceptInvite(ctx context.Context, session Session, token string) (map[string]any, error) {
	now := s.now()
	claims, err := auth.ParseInviteToken([]byte(s.cfg.InviteSecret), token, now)
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return nil, errInviteExpired
	case err != nil:
		return nil, errInviteInvalid
	}
	invite, err := s.store.GetInvite(ctx, claims.InviteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Invite")
	}
	if err != nil {
		return nil, err
	}
	if invite.GroupID != claims.GroupID {
		return nil, errInviteInvalid
	}
	if invite.RevokedAt != nil {
		return nil, errInviteRevoked
	}
	if invite.AcceptedAt != nil {
		if invite.AcceptedBy == session.UserID {
			return s.acceptedPayload(ctx, session, invite)
		}
		return nil, errInviteUsed
	}
	if err := auth.CompareSecret(invite.SecretHash, claims.Secret); err != nil {
		return nil, errInviteInvalid
	}

	role := rbac.Normalize(invite.Role)
	current, err := s.store.GetMemberRole(ctx, invite.ParentGroupID, session.UserID)
	switch {
	case err == nil:
		role = rbac.Higher(rbac.Normalize(current), role)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}
	if err := s.store.AcceptInvite(ctx, invite, session.UserID, string(role), now.UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errInviteUsed
		}
		return nil, err
	}
	logger(ctx).Info("invite accepted", "inviteId", invite.ID, "personId", invite.PersonID, "userId", session.UserID, "role", role)
	return s.acceptedPayload(ctx, session, invite)
}

func (s *Service) acceptedPayload(ctx context.Context, session Session, invite store.Invite) (map[string]any, error) {
	role, err := s.groupRole(ctx, session.UserID, invite.ParentGroupID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"personId": invite.PersonID, "role": role}, nil
}

func (s *Service) RevokeInvite(ctx context.Context, session Session, personID, inviteID string) (map[string]any, error) {
	person, _, err := s.personAccess(ctx, session, personID, rbac.ActionAdmin)
	if err != nil {
		return nil, err
	}
	invite, err := s.store.GetInvite(ctx, inviteID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && invite.PersonID != person.ID) {
		return nil, notFound("Invite")
	}
	if err != nil {
		return nil, err
	}
	if invite.AcceptedAt != nil {
		return nil, errInviteUsed
	}
	if invite.RevokedAt == nil {
		if err := s.store.RevokeInvite(ctx, invite, s.now().UTC()); err != nil {
			return nil, err
		}
		logger(ctx).Info("invite revoked", "inviteId", invite.ID, "personId", person.ID)
	}
	return map[string]any{"ok": true}, nil
}

// ListCollaborators lists the person's group members. Admins also see the
// pending invites.
func (s *Service) ListCollaborators(ctx context.Context, session Session, personID string) (map[string]any, error) {
	person, role, err := s.personAccess(ctx, session, personID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListGroupMembers(ctx, person.GroupID)
	if err != nil {
		return nil, err
	}
	memberItems := make([]map[string]any, 0, len(members))
	for _, member := range members {
		memberItems = append(memberItems, memberPayload(member))
	}
	inviteItems := make([]map[string]any, 0)
	if rbac.Can(role, rbac.ActionAdmin) {
		invites, err := s.store.ListPendingInvites(ctx, person.GroupID)
		if err != nil {
			return nil, err
		}
		for _, invite := range invites {
			inviteItems = append(inviteItems, invitePayload(invite))
		}
	}
	return map[string]any{
		"personId": person.ID,
		"role":     role,
		"members":  memberItems,
		"invites":  inviteItems,
	}, nil
}

// RemoveCollaborator drops a member from the person's group. Members may
// remove themselves; removing anyone else takes admin.
func (s *Service) RemoveCollaborator(ctx context.Context, session Session, personID, userID string) (map[string]any, error) {
	action := rbac.ActionAdmin
	if userID == session.UserID {
		action = rbac.ActionRead
	}
	person, _, err := s.personAccess(ctx, session, personID, action)
	if err != nil {
		return nil, err
	}
	if err := s.guardLastAdmin(ctx, person, userID, ""); err != nil {
		return nil, err
	}
	if err := s.store.RemoveGroupMember(ctx, person.GroupID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Collaborator")
		}
		return nil, err
	}
	logger(ctx).Info("collaborator removed", "personId", person.ID, "userId", userID, "by", session.UserID)
	return map[string]any{"ok": true}, nil
}

func (s *Service) UpdateCollaboratorRole(ctx context.Context, session Session, personID, userID, role string) (map[string]any, error) {
	if !rbac.Valid(role) {
		return nil, validationError("role must be admin, writer or reader")
	}
	person, _, err := s.personAccess(ctx, session, personID, rbac.ActionAdmin)
	if err != nil {
		return nil, err
	}
	if err := s.guardLastAdmin(ctx, person, userID, rbac.Role(role)); err != nil {
		return nil, err
	}
	if err := s.store.SetMemberRole(ctx, person.GroupID, userID, role); err != nil {
		return nil, err
	}
	return map[string]any{"userId": userID, "role": role}, nil
}

// guardLastAdmin rejects changes that would leave the group without an admin.
// next is the member's new role, empty when the member is being removed.
func (s *Service) guardLastAdmin(ctx context.Context, person store.Person, userID string, next rbac.Role) error {
	current, err := s.store.GetMemberRole(ctx, person.GroupID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("Collaborator")
	}
	if err != nil {
		return err
	}
	if rbac.Normalize(current) != rbac.RoleAdmin || next == rbac.RoleAdmin {
		return nil
	}
	admins, err := s.store.CountGroupAdmins(ctx, person.GroupID)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return errLastAdmin
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
