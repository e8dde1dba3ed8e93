package app

import "net/http"

// handlePeople routes everything below /api/people. parts excludes the
// "api" and "people" segments.
func (s *HTTPServer) handlePeople(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	ctx := r.Context()
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			payload, err := s.service.ListPeople(ctx, session, query.Get("q"), query.Get("status"))
			respond(w, r, http.StatusOK, payload, err)
		case http.MethodPost:
			var body PersonInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			payload, err := s.service.CreatePerson(ctx, session, body)
			respond(w, r, http.StatusCreated, payload, err)
		default:
			return false
		}
		return true
	}

	personID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetPerson(ctx, session, personID)
			respond(w, r, http.StatusOK, payload, err)
		case http.MethodPut:
			var body PersonInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			payload, err := s.service.UpdatePerson(ctx, session, personID, body)
			respond(w, r, http.StatusOK, payload, err)
		case http.MethodDelete:
			payload, err := s.service.DeletePerson(ctx, session, personID)
			respond(w, r, http.StatusOK, payload, err)
		default:
			return false
		}
		return true
	}

	switch parts[1] {
	case "restore":
		if r.Method == http.MethodPost && len(parts) == 2 {
			payload, err := s.service.RestorePerson(ctx, session, personID)
			respond(w, r, http.StatusOK, payload, err)
			return true
		}
	case "avatar":
		if r.Method == http.MethodPut && len(parts) == 2 {
			contentType, body, err := uploadBody(r)
			if err != nil {
				respond(w, r, http.StatusOK, nil, err)
				return true
			}
			payload, err := s.service.SetAvatar(ctx, session, personID, contentType, body)
			respond(w, r, http.StatusOK, payload, err)
			return true
		}
	case "notes":
		return s.handleNotes(w, r, session, personID, parts[2:])
	case "reminders":
		return s.handleReminders(w, r, session, personID, parts[2:])
	case "collaborators", "invites":
		return s.handleSharing(w, r, session, personID, parts[1:])
	}
	return false
}

func (s *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request, session Session, personID string, parts []string) bool {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.ListPersonNotes(ctx, session, personID, r.URL.Query().Get("status"))
		respond(w, r, http.StatusOK, payload, err)
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body NoteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		payload, err := s.service.CreateNote(ctx, session, personID, body)
		respond(w, r, http.StatusCreated, payload, err)
	case len(parts) == 1 && r.Method == http.MethodPut:
		var body NoteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		payload, err := s.service.UpdateNote(ctx, session, personID, parts[0], body)
		respond(w, r, http.StatusOK, payload, err)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		payload, err := s.service.DeleteNote(ctx, session, personID, parts[0])
		respond(w, r, http.StatusOK, payload, err)
	case len(parts) == 2 && parts[1] == "restore" && r.Method == http.MethodPost:
		payload, err := s.service.RestoreNote(ctx, session, personID, parts[0])
		respond(w, r, http.StatusOK, payload, err)
	case len(parts) == 2 && parts[1] == "images" && r.Method == http.MethodPost:
		contentType, body, err := uploadBody(r)
		if err != nil {
			respond(w, r, http.StatusOK, nil, err)
			return true
		}
		payload, err := s.service.AddNoteImage(ctx, session, personID, parts[0], contentType, body)
		respond(w, r, http.StatusCreated, payload, err)
	default:
		return false
	}
	return true
}

func (s *HTTPServer) handleReminders(w http.ResponseWriter, r *http.Request, session Session, personID string, parts []string) bool {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.ListPersonReminders(ctx, session, personID, r.URL.Query().Get("status"))
		respond(w, r, http.StatusOK, payload, err)
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body ReminderInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		payload, err := s.service.CreateReminder(ctx, session, personID, body)
		respond(w, r, http.StatusCreated, payload, err)
	case len(parts) == 1 && r.Method == http.MethodPut:
		var body ReminderInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		payload, err := s.service.UpdateReminder(ctx, session, personID, parts[0], body)
		respond(w, r, http.StatusOK, payload, err)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		payload, err := s.service.DeleteReminder(ctx, session, personID, parts[0])
		respond(w, r, http.StatusOK, payload, err)
	case len(parts) == 2 && parts[1] == "done" && r.Method == http.MethodPost:
		payload, err := s.service.CompleteReminder(ctx, session, personID, parts[0])
		respond(w, r, http.StatusOK, payload, err)
	case len(parts) == 2 && parts[1] == "restore" && r.Method == http.MethodPost:
		payload, err := s.service.RestoreReminder(ctx, session, personID, parts[0])
		respond(w, r, http.StatusOK, payload, err)
	default:
		return false
	}
	return true
}

// handleSharing covers /collaborators and /invites below a person.
func (s *HTTPServer) handleSharing(w http.ResponseWriter, r *http.Request, session Session, personID string, parts []string) bool {
	ctx := r.Context()
	switch {
	case parts[0] == "collaborators" && len(parts) == 1 && r.Method == http.MethodGet:
		payload, err := s.service.ListCollaborators(ctx, session, personID)
		respond(w, r, http.StatusOK, payload, err)
	case parts[0] == "collaborators" && len(parts) == 2 && r.Method == http.MethodPut:
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		payload, err := s.service.UpdateCollaboratorRole(ctx, session, personID, parts[1], body.Role)
		respond(w, r, http.StatusOK, payload, err)
	case parts[0] == "collaborators" && len(parts) == 2 && r.Method == http.MethodDelete:
		payload, err := s.service.RemoveCollaborator(ctx, session, personID, parts[1])
		respond(w, r, http.StatusOK, payload, err)
	case parts[0] == "invites" && len(parts) == 1 && r.Method == http.MethodPost:
		var body InviteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		payload, err := s.service.CreateInvite(ctx, session, personID, body)
		respond(w, r, http.StatusCreated, payload, err)
	case parts[0] == "invites" && len(parts) == 2 && r.Method == http.MethodDelete:
		payload, err := s.service.RevokeInvite(ctx, session, personID, parts[1])
		respond(w, r, http.StatusOK, payload, err)
	default:
		return false
	}
	return true
}
