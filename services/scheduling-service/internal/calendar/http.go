package calendar

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPProvider calls a calendar sync service that owns the provider
// credentials. A 404 from either endpoint means "not connected".
//
//	GET  /providers/{id}/busy?start=&end=  -> {"busy":[{"start":..,"end":..}]}
//	POST /providers/{id}/events            -> {"event_id":".."}
type HTTPProvider struct {
	client *resty.Client
}

type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &HTTPProvider{client: client}
}

type busyResponse struct {
	Busy []struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"busy"`
}

func (p *HTTPProvider) FetchBusyIntervals(ctx context.Context, providerID string, start, end time.Time) ([]model.BusyInterval, error) {
	var body busyResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("provider", providerID).
		SetQueryParam("start", start.UTC().Format(time.RFC3339)).
		SetQueryParam("end", end.UTC().Format(time.RFC3339)).
		SetResult(&body).
		Get("/providers/{provider}/busy")
	if err != nil {
		return nil, fmt.Errorf("calendar busy request: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("calendar busy request: status %d", resp.StatusCode())
	}
	out := make([]model.BusyInterval, 0, len(body.Busy))
	for _, b := range body.Busy {
		if b.End.After(b.Start) {
			out = append(out, model.BusyInterval{Start: b.Start, End: b.End})
		}
	}
	return out, nil
}

type exportRequest struct {
	AppointmentID string    `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Summary       string    `json:"summary"`
}

type exportResponse struct {
	EventID string `json:"event_id"`
}

func (p *HTTPProvider) ExportAppointment(ctx context.Context, providerID string, appt model.Appointment) (string, bool, error) {
	var body exportResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("provider", providerID).
		SetHeader("Content-Type", "application/json").
		SetBody(exportRequest{
			AppointmentID: appt.ID,
			TenantID:      appt.TenantID,
			Start:         appt.Start.UTC(),
			End:           appt.End.UTC(),
			Summary:       "Clinic appointment",
		}).
		SetResult(&body).
		Post("/providers/{provider}/events")
	if err != nil {
		return "", false, fmt.Errorf("calendar export request: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", false, nil
	}
	if resp.IsError() {
		return "", false, fmt.Errorf("calendar export request: status %d", resp.StatusCode())
	}
	if body.EventID == "" {
		return "", false, nil
	}
	return body.EventID, true, nil
}
