package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/store"
)

const providerGoogle = "google"

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint defaults to Google's OAuth endpoint.
	Endpoint oauth2.Endpoint
	// ClientOptions are appended to every calendar service, after the
	// tenant's token source.
	ClientOptions []option.ClientOption
}

// GoogleProvider reaches Google Calendar with the OAuth grant stored for each
// tenant. Refreshed access tokens are written back to the token store.
type GoogleProvider struct {
	oauth  *oauth2.Config
	tokens TokenStore
	opts   []option.ClientOption
	log    *slog.Logger
}

func NewGoogleProvider(cfg GoogleConfig, tokens TokenStore, log *slog.Logger) *GoogleProvider {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = endpoints.Google
	}
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       []string{gcal.CalendarScope},
		},
		tokens: tokens,
		opts:   cfg.ClientOptions,
		log:    log.With(slog.String("component", "calendar.google")),
	}
}

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it as the
// tenant's calendar connection.
func (p *GoogleProvider) Exchange(ctx context.Context, tenantID, code string) error {
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	return p.tokens.SaveCalendarConnection(ctx, connectionFromToken(tenantID, tok))
}

func (p *GoogleProvider) ListCalendars(ctx context.Context, tenantID string) ([]domain.Calendar, error) {
	svc, err := p.service(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var out []domain.Calendar
	err = svc.CalendarList.List().MinAccessRole("writer").Pages(ctx, func(page *gcal.CalendarList) error {
		for _, item := range page.Items {
			out = append(out, domain.Calendar{ID: item.Id, Summary: item.Summary, Primary: item.Primary})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	return out, nil
}

func (p *GoogleProvider) QueryFreeBusy(ctx context.Context, tenantID, selector string, from, to time.Time) ([]domain.Interval, error) {
	svc, err := p.service(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: selector}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("query free/busy: %w", err)
	}

	cal, ok := resp.Calendars[selector]
	if !ok {
		return nil, fmt.Errorf("query free/busy: calendar %q missing from response", selector)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("query free/busy: calendar %q: %s", selector, cal.Errors[0].Reason)
	}

	out := make([]domain.Interval, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("query free/busy: parse start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("query free/busy: parse end: %w", err)
		}
		out = append(out, domain.Interval{Start: start.UTC(), End: end.UTC()})
	}
	return out, nil
}

func (p *GoogleProvider) CreateEvent(ctx context.Context, tenantID string, in EventInput) (string, error) {
	svc, err := p.service(ctx, tenantID)
	if err != nil {
		return "", err
	}

	ev := &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       &gcal.EventDateTime{DateTime: in.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:         &gcal.EventDateTime{DateTime: in.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
	}
	if in.GuestEmail != "" {
		ev.Attendees = []*gcal.EventAttendee{{Email: in.GuestEmail, DisplayName: in.GuestName}}
	}

	created, err := svc.Events.Insert(in.Selector, ev).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return created.Id, nil
}

func (p *GoogleProvider) DeleteEvent(ctx context.Context, tenantID, selector, eventID string) error {
	svc, err := p.service(ctx, tenantID)
	if err != nil {
		return err
	}

	err = svc.Events.Delete(selector, eventID).SendUpdates("all").Context(ctx).Do()
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func (p *GoogleProvider) service(ctx context.Context, tenantID string) (*gcal.Service, error) {
	conn, err := p.tokens.GetCalendarConnection(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrCalendarNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("load calendar connection: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    conn.TokenType,
		Expiry:       conn.Expiry,
	}
	src := &persistingTokenSource{
		base:     p.oauth.TokenSource(context.WithoutCancel(ctx), tok),
		last:     conn.AccessToken,
		tenantID: tenantID,
		tokens:   p.tokens,
		log:      p.log,
	}

	opts := append([]option.ClientOption{option.WithTokenSource(src)}, p.opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return svc, nil
}

// persistingTokenSource stores every token the OAuth client refreshes.
type persistingTokenSource struct {
	base     oauth2.TokenSource
	tenantID string
	tokens   TokenStore
	log      *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last {
		return tok, nil
	}
	s.last = tok.AccessToken

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tokens.SaveCalendarConnection(ctx, connectionFromToken(s.tenantID, tok)); err != nil {
		s.log.Warn("persist refreshed token failed", slog.String("tenant_id", s.tenantID), slog.Any("err", err))
	}
	return tok, nil
}

func connectionFromToken(tenantID string, tok *oauth2.Token) domain.CalendarConnection {
	return domain.CalendarConnection{
		TenantID:     tenantID,
		Provider:     providerGoogle,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Expiry:       tok.Expiry.UTC(),
	}
}
