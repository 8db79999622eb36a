// Package template renders session event webhook bodies.
//
// Supported variables:
//
//	{{event.id}}, {{event.type}}, {{event.at}}, {{event.source}}
//	{{user.id}}, {{user.nickname}}, {{user.openid}}
//	{{error.kind}}, {{error.message}}
package template

import (
	"strconv"
	"strings"
	"time"

	"github.com/wordcheck/session-agent/internal/model"
)

// EventData is the flattened view of a session event used by templates.
type EventData struct {
	ID           string
	Type         string
	At           time.Time
	Source       string
	UserID       int64
	Nickname     string
	OpenID       string
	ErrorKind    string
	ErrorMessage string
}

func EventDataFromModel(evt model.SessionEvent) EventData {
	return EventData{
		ID:           evt.ID,
		Type:         evt.Type,
		At:           evt.At,
		Source:       evt.Source,
		UserID:       evt.Profile.ID(),
		Nickname:     evt.Profile.String("nickname"),
		OpenID:       evt.Profile.String("openid"),
		ErrorKind:    evt.ErrorKind,
		ErrorMessage: evt.ErrorMessage,
	}
}

// RenderBody substitutes every variable in body. Values that do not apply
// to the event render as empty strings.
func RenderBody(body string, evt EventData) string {
	at := ""
	if !evt.At.IsZero() {
		at = evt.At.Format(time.RFC3339)
	}
	userID := ""
	if evt.UserID != 0 {
		userID = strconv.FormatInt(evt.UserID, 10)
	}

	return strings.NewReplacer(
		"{{event.id}}", evt.ID,
		"{{event.type}}", evt.Type,
		"{{event.at}}", at,
		"{{event.source}}", evt.Source,
		"{{user.id}}", userID,
		"{{user.nickname}}", jsonSafe(evt.Nickname),
		"{{user.openid}}", evt.OpenID,
		"{{error.kind}}", evt.ErrorKind,
		"{{error.message}}", jsonSafe(evt.ErrorMessage),
	).Replace(body)
}

// jsonSafe escapes characters that would break a JSON string literal.
func jsonSafe(s string) string {
	quoted := strconv.Quote(s)
	return quoted[1 : len(quoted)-1]
}
