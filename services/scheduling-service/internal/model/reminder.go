package model

import (
	"fmt"
	"time"
)

type Channel string

const (
	ChannelMessaging Channel = "messaging"
	ChannelEmail     Channel = "email"
)

// Channels lists every channel kind in dispatch order.
var Channels = []Channel{ChannelMessaging, ChannelEmail}

func ParseChannel(raw string) (Channel, bool) {
	switch c := Channel(raw); c {
	case ChannelMessaging, ChannelEmail:
		return c, true
	}
	return "", false
}

type ReminderSettings struct {
	TenantID         string
	TenantName       string
	Timezone         string
	LeadHours        []int
	SendStartHour    int
	SendEndHour      int
	MessagingEnabled bool
	EmailEnabled     bool
}

func (s ReminderSettings) ChannelEnabled(c Channel) bool {
	switch c {
	case ChannelMessaging:
		return s.MessagingEnabled
	case ChannelEmail:
		return s.EmailEnabled
	}
	return false
}

func (s ReminderSettings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("tenant %s timezone: %w", s.TenantID, err)
	}
	return loc, nil
}

// InSendWindow reports whether hour falls in [SendStartHour, SendEndHour).
// A window whose start is after its end wraps past midnight; equal bounds
// mean the window is closed.
func (s ReminderSettings) InSendWindow(hour int) bool {
	switch {
	case s.SendStartHour < s.SendEndHour:
		return hour >= s.SendStartHour && hour < s.SendEndHour
	case s.SendStartHour > s.SendEndHour:
		return hour >= s.SendStartHour || hour < s.SendEndHour
	default:
		return false
	}
}

type ReminderTemplate struct {
	TenantID string
	Channel  Channel
	Subject  string
	Body     string
}

type LogStatus string

const (
	LogSent    LogStatus = "sent"
	LogFailed  LogStatus = "failed"
	LogSkipped LogStatus = "skipped"
)

// ReminderLog rows are append-only. Channel is empty for rows that are not
// about a single channel, such as reminders being disabled for the patient.
type ReminderLog struct {
	ID            int64
	TenantID      string
	AppointmentID string
	LeadHours     int
	Channel       Channel
	Status        LogStatus
	Error         string
	CreatedAt     time.Time
}

// DueAppointment is a confirmed appointment joined with what a reminder needs.
type DueAppointment struct {
	Appointment
	PatientName      string
	PatientPhone     string
	PatientEmail     string
	RemindersEnabled bool
	ServiceName      string
}

func (d DueAppointment) Recipient(c Channel) string {
	switch c {
	case ChannelMessaging:
		return d.PatientPhone
	case ChannelEmail:
		return d.PatientEmail
	}
	return ""
}
