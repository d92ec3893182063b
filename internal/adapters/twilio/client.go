// Package twilio implements provider.Provider against a Twilio-compatible Messages REST API.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"smsrelay/internal/apperr"
	"smsrelay/internal/models"
	"smsrelay/internal/provider"
	"smsrelay/pkg/httputil"
)

// Options configures the Client.
type Options struct {
	BaseURL             string
	AccountSID          string
	AuthToken           string
	MessagingServiceSID string // sending pool used for bulk and scheduled sends
	StatusCallbackURL   string
	Timeout             time.Duration
}

// Client is the production provider.Provider.
type Client struct {
	httpClient          *resty.Client
	accountSID          string
	messagingServiceSID string
	statusCallbackURL   string
	now                 func() time.Time
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates a new provider client. Retries are disabled; the timeout bounds every call.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("provider baseURL cannot be empty")
	}
	if opts.AccountSID == "" {
		return nil, fmt.Errorf("provider account SID cannot be empty")
	}
	if opts.AuthToken == "" {
		return nil, fmt.Errorf("provider auth token cannot be empty")
	}

	client := httputil.NewRestyClient(strings.TrimRight(opts.BaseURL, "/"), opts.Timeout).
		SetBasicAuth(opts.AccountSID, opts.AuthToken).
		SetHeader("Accept", "application/json")

	log.Info().
		Str("baseURL", opts.BaseURL).
		Str("accountSID", opts.AccountSID).
		Bool("messagingService", opts.MessagingServiceSID != "").
		Dur("timeout", opts.Timeout).
		Msg("Provider client configured")

	return &Client{
		httpClient:          client,
		accountSID:          opts.AccountSID,
		messagingServiceSID: opts.MessagingServiceSID,
		statusCallbackURL:   opts.StatusCallbackURL,
		now:                 time.Now,
	}, nil
}

func (c *Client) messagesURL() string {
	return fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", c.accountSID)
}

func (c *Client) messageURL(resourceID string) string {
	return fmt.Sprintf("/2010-04-01/Accounts/%s/Messages/%s.json", c.accountSID, url.PathEscape(resourceID))
}

func (c *Client) baseForm(to, body string, media []string) url.Values {
	form := url.Values{}
	form.Set("To", to)
	if body != "" {
		form.Set("Body", body)
	}
	for _, m := range media {
		form.Add("MediaUrl", m)
	}
	if c.statusCallbackURL != "" {
		form.Set("StatusCallback", c.statusCallbackURL)
	}
	return form
}

// SendNow sends from a specific number. Media presence makes it an MMS.
func (c *Client) SendNow(ctx context.Context, to, from, body string, media []string) (*provider.Message, error) {
	form := c.baseForm(to, body, media)
	form.Set("From", from)
	return c.do(ctx, "SendNow", c.messagesURL(), form)
}

// SendViaPool sends through the shared messaging service instead of a specific number.
func (c *Client) SendViaPool(ctx context.Context, to, body string, media []string) (*provider.Message, error) {
	if c.messagingServiceSID == "" {
		return nil, apperr.InvalidRequest("pool sending requires a messaging service SID")
	}
	form := c.baseForm(to, body, media)
	form.Set("MessagingServiceSid", c.messagingServiceSID)
	return c.do(ctx, "SendViaPool", c.messagesURL(), form)
}

// Schedule asks the provider to send at sendAfter, which must be in the future.
func (c *Client) Schedule(ctx context.Context, to, body string, media []string, sendAfter time.Time) (*provider.Message, error) {
	if !sendAfter.After(c.now()) {
		return nil, apperr.InvalidRequest("schedule time %s is not in the future", sendAfter.Format(time.RFC3339))
	}
	if c.messagingServiceSID == "" {
		return nil, apperr.InvalidRequest("scheduling requires a messaging service SID")
	}
	form := c.baseForm(to, body, media)
	form.Set("MessagingServiceSid", c.messagingServiceSID)
	form.Set("ScheduleType", "fixed")
	form.Set("SendAt", sendAfter.UTC().Format(time.RFC3339))
	msg, err := c.do(ctx, "Schedule", c.messagesURL(), form)
	if err != nil {
		return nil, err
	}
	if msg.ScheduledAt == nil {
		at := sendAfter.UTC()
		msg.ScheduledAt = &at
	}
	return msg, nil
}

// Cancel requests cancellation of a queued or scheduled message.
func (c *Client) Cancel(ctx context.Context, resourceID string) (*provider.Message, error) {
	form := url.Values{}
	form.Set("Status", "canceled")
	return c.do(ctx, "Cancel", c.messageURL(resourceID), form)
}

// FetchByID re-reads the provider-side state of a message.
func (c *Client) FetchByID(ctx context.Context, resourceID string) (*provider.Message, error) {
	u := c.messageURL(resourceID)
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(u)
	return c.handle("FetchByID", u, resp, err)
}

func (c *Client) do(ctx context.Context, op, u string, form url.Values) (*provider.Message, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		Post(u)
	return c.handle(op, u, resp, err)
}

func (c *Client) handle(op, u string, resp *resty.Response, err error) (*provider.Message, error) {
	if err != nil {
		log.Error().Err(err).Str("op", op).Str("url", u).Msg("Provider API: request failed")
		return nil, &provider.Error{Message: op + " request failed", Err: err}
	}

	if resp.IsError() {
		perr := &provider.Error{StatusCode: resp.StatusCode(), Message: resp.Status()}
		var body apiError
		if jerr := json.Unmarshal(resp.Body(), &body); jerr == nil && (body.Code != 0 || body.Message != "") {
			perr.Code = body.Code
			perr.Message = body.Message
			perr.MoreInfo = body.MoreInfo
		}
		log.Error().
			Str("op", op).
			Str("url", u).
			Int("statusCode", resp.StatusCode()).
			Int("providerCode", perr.Code).
			Str("responseBody", string(resp.Body())).
			Msg("Provider API: returned an error")
		return nil, perr
	}

	var raw apiMessage
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		log.Error().Err(err).Str("op", op).Str("url", u).Msg("Provider API: undecodable response")
		return nil, &provider.Error{StatusCode: resp.StatusCode(), Message: "undecodable response body", Err: err}
	}

	msg := toProviderMessage(&raw)
	log.Debug().Str("op", op).Str("sid", msg.ID).Str("status", msg.RawStatus).Msg("Provider API: call succeeded")
	return msg, nil
}

func toProviderMessage(raw *apiMessage) *provider.Message {
	msg := &provider.Message{
		ID:                  raw.SID,
		MessagingServiceSID: nonEmpty(raw.MessagingServiceSID),
		From:                nonEmpty(raw.From),
		To:                  raw.To,
		Body:                raw.Body,
		RawStatus:           raw.Status,
		Direction:           provider.TranslateDirection(raw.Direction),
		ErrorCode:           raw.ErrorCode,
		ErrorMessage:        nonEmpty(raw.ErrorMessage),
		NumSegments:         int(raw.NumSegments),
		NumMedia:            int(raw.NumMedia),
		PriceUnit:           nonEmpty(raw.PriceUnit),
		APIVersion:          raw.APIVersion,
		CreatedAt:           raw.DateCreated.ptr(),
		SentAt:              raw.DateSent.ptr(),
		UpdatedAt:           raw.DateUpdated.ptr(),
	}
	if raw.AccountSID != "" {
		msg.AccountSID = models.Ptr(raw.AccountSID)
	}
	if raw.Price != nil {
		if p, err := strconv.ParseFloat(strings.TrimSpace(*raw.Price), 64); err == nil {
			msg.Price = models.Ptr(math.Abs(p))
		}
	}
	if msg.Status() == models.StatusScheduled && raw.DateSent != nil {
		msg.ScheduledAt = raw.DateSent.ptr()
	}
	// the resource has no delivery timestamp; its last update is the delivery
	if msg.Status() == models.StatusDelivered {
		msg.DeliveredAt = msg.UpdatedAt
	}
	return msg
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
