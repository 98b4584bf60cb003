package templates

import (
	"html"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

const (
	VarPatientName = "patient_name"
	VarDate        = "date"
	VarTime        = "time"
	VarServiceName = "service_name"
	VarClinicName  = "clinic_name"
	VarLeadHours   = "lead_hours"
)

const (
	longDateLayout = "Monday, January 2, 2006"
	clockLayout    = "15:04"
)

// Render replaces every {name} whose name is a key of vars. Placeholders with
// no matching variable are left as they are.
func Render(tpl string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(tpl, "{") {
		return tpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

// Vars builds the variable set for one reminder, formatting the appointment
// start in the tenant's location.
func Vars(appt model.DueAppointment, clinicName string, leadHours int, loc *time.Location) map[string]string {
	if loc == nil {
		loc = time.UTC
	}
	start := appt.Start.In(loc)
	return map[string]string{
		VarPatientName: appt.PatientName,
		VarDate:        start.Format(longDateLayout),
		VarTime:        start.Format(clockLayout),
		VarServiceName: appt.ServiceName,
		VarClinicName:  clinicName,
		VarLeadHours:   strconv.Itoa(leadHours),
	}
}

type Message struct {
	Subject string
	Body    string
}

// Build renders tpl for a channel and applies that channel's post-processing.
// confirmURL is appended to messaging bodies when non-empty. Values in email
// bodies are HTML-escaped and the email subject is kept to one line.
func Build(ch model.Channel, tpl model.ReminderTemplate, vars map[string]string, confirmURL string) Message {
	if ch == model.ChannelEmail {
		escaped := make(map[string]string, len(vars))
		for k, v := range vars {
			escaped[k] = html.EscapeString(v)
		}
		body := strings.ReplaceAll(Render(tpl.Body, escaped), "\r\n", "\n")
		return Message{
			Subject: singleLine(Render(tpl.Subject, vars)),
			Body:    strings.ReplaceAll(body, "\n", "<br>"),
		}
	}

	body := Render(tpl.Body, vars)
	if ch == model.ChannelMessaging && confirmURL != "" {
		body += "\n\nConfirm: " + confirmURL
	}
	return Message{Body: body}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func singleLine(s string) string {
	return strings.TrimSpace(lineBreaks.Replace(s))
}

// ConfirmLink returns baseURL with the token as a query parameter, or "" when
// either is missing.
func ConfirmLink(baseURL, token string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" || token == "" {
		return ""
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
