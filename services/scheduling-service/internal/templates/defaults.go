package templates

import "github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"

const (
	defaultMessagingBody = "Hi {patient_name}, this is a reminder of your {service_name} appointment at {clinic_name} on {date} at {time}."
	defaultEmailSubject  = "Appointment reminder: {service_name} on {date}"
	defaultEmailBody     = "Hi {patient_name},\n\nThis is a reminder that your {service_name} appointment at {clinic_name} is on {date} at {time}.\n\nSee you soon,\n{clinic_name}"
)

// Default is used when a tenant has not configured a template for ch.
func Default(tenantID string, ch model.Channel) model.ReminderTemplate {
	switch ch {
	case model.ChannelEmail:
		return model.ReminderTemplate{TenantID: tenantID, Channel: ch, Subject: defaultEmailSubject, Body: defaultEmailBody}
	case model.ChannelMessaging:
		return model.ReminderTemplate{TenantID: tenantID, Channel: ch, Body: defaultMessagingBody}
	}
	return model.ReminderTemplate{TenantID: tenantID, Channel: ch}
}

// Resolve picks the tenant's template for ch, falling back to Default when
// none is stored or the stored body is blank.
func Resolve(tenantID string, ch model.Channel, stored map[model.Channel]model.ReminderTemplate) model.ReminderTemplate {
	if tpl, ok := stored[ch]; ok && tpl.Body != "" {
		if ch == model.ChannelEmail && tpl.Subject == "" {
			tpl.Subject = defaultEmailSubject
		}
		return tpl
	}
	return Default(tenantID, ch)
}
