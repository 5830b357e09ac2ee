package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TwilioClient posts to the Twilio REST API with account basic auth.
type TwilioClient struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
}

// NewTwilioClient builds a client for one sending number.
func NewTwilioClient(accountSID, authToken, from, baseURL string, timeout time.Duration) *TwilioClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &TwilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *TwilioClient) create(ctx context.Context, resource string, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s.json", c.baseURL, url.PathEscape(c.accountSID), resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create twilio request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send twilio request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return "", fmt.Errorf("twilio %s: status %d code %d: %s", resource, resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return "", fmt.Errorf("twilio %s: status %d", resource, resp.StatusCode)
	}

	var created struct {
		SID string `json:"sid"`
	}
	_ = json.Unmarshal(raw, &created)
	return created.SID, nil
}

// SMSSender sends text messages.
type SMSSender struct {
	client *TwilioClient
	logger zerolog.Logger
}

// NewSMSSender wraps a Twilio client for SMS.
func NewSMSSender(client *TwilioClient, logger zerolog.Logger) *SMSSender {
	return &SMSSender{client: client, logger: logger.With().Str("component", "alert_sms").Logger()}
}

// Send delivers msg.Body to the phone number.
func (s *SMSSender) Send(ctx context.Context, phone string, msg Message) error {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", s.client.from)
	form.Set("Body", msg.Body)
	sid, err := s.client.create(ctx, "Messages", form)
	if err != nil {
		return err
	}
	s.logger.Debug().Str("sid", sid).Msg("sms queued")
	return nil
}

// CallSender places voice calls.
type CallSender struct {
	client   *TwilioClient
	twimlURL string
	logger   zerolog.Logger
}

// NewCallSender places calls that play twimlURL, or speak the message when it is empty.
func NewCallSender(client *TwilioClient, twimlURL string, logger zerolog.Logger) *CallSender {
	return &CallSender{client: client, twimlURL: twimlURL, logger: logger.With().Str("component", "alert_call").Logger()}
}

// Send calls the phone number.
func (s *CallSender) Send(ctx context.Context, phone string, msg Message) error {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", s.client.from)
	if s.twimlURL != "" {
		form.Set("Url", s.twimlURL)
	} else {
		form.Set("Twiml", "<Response><Say>"+html.EscapeString(msg.Body)+"</Say></Response>")
	}
	sid, err := s.client.create(ctx, "Calls", form)
	if err != nil {
		return err
	}
	s.logger.Debug().Str("sid", sid).Msg("call queued")
	return nil
}

var (
	_ Sender = (*SMSSender)(nil)
	_ Sender = (*CallSender)(nil)
)
