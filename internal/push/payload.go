package push

import (
	"encoding/json"
	"fmt"
)

type Payload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
	UserID string `json:"userId"`
}

func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// ReminderPayload builds the daily summary in the user's language (en or de).
func ReminderPayload(language, appURL, userID string, due int) Payload {
	payload := Payload{Title: "Tilly", URL: appURL + "/reminders", UserID: userID}
	switch language {
	case "de":
		if due == 1 {
			payload.Body = "1 Erinnerung ist heute fällig"
		} else {
			payload.Body = fmt.Sprintf("%d Erinnerungen sind heute fällig", due)
		}
	default:
		if due == 1 {
			payload.Body = "1 reminder is due today"
		} else {
			payload.Body = fmt.Sprintf("%d reminders are due today", due)
		}
	}
	return payload
}

func ProbePayload(language, appURL, userID string) Payload {
	payload := Payload{Title: "Tilly", URL: appURL + "/settings", UserID: userID}
	if language == "de" {
		payload.Body = "Benachrichtigungen funktionieren"
	} else {
		payload.Body = "Notifications are working"
	}
	return payload
}
