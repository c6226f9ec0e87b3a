package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SMSChannel delivers plain text messages through an HMAC-authenticated
// REST gateway (SOLAPI-compatible wire format).
type SMSChannel struct {
	endpoint string
	apiKey   string
	secret   string
	from     string
	client   *http.Client
	now      func() time.Time
	logger   Logger
}

// SMSOption customizes the channel.
type SMSOption func(*SMSChannel)

// WithSMSHTTPClient overrides the HTTP client.
func WithSMSHTTPClient(client *http.Client) SMSOption {
	return func(c *SMSChannel) {
		if client != nil {
			c.client = client
		}
	}
}

// WithSMSClock injects a custom clock (useful for tests).
func WithSMSClock(clock func() time.Time) SMSOption {
	return func(c *SMSChannel) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithSMSLogger sets the channel logger.
func WithSMSLogger(logger Logger) SMSOption {
	return func(c *SMSChannel) {
		c.logger = logger
	}
}

// NewSMSChannel builds the gateway client. endpoint is the full send
// URL, from the registered sender number.
func NewSMSChannel(endpoint, apiKey, apiSecret, from string, opts ...SMSOption) (*SMSChannel, error) {
	if endpoint == "" || apiKey == "" || apiSecret == "" {
		return nil, errors.New("sms channel requires endpoint and credentials", errors.CategoryBadInput)
	}

	c := &SMSChannel{
		endpoint: endpoint,
		apiKey:   apiKey,
		secret:   apiSecret,
		from:     from,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// Kind implements Channel.
func (c *SMSChannel) Kind() Kind {
	return KindSMS
}

// SupportsTemplates implements Channel. The gateway takes raw text, so
// template dispatches fall back to the message variable upstream.
func (c *SMSChannel) SupportsTemplates() bool {
	return false
}

type smsPayload struct {
	Message smsMessage `json:"message"`
}

type smsMessage struct {
	To   string `json:"to"`
	From string `json:"from"`
	Text string `json:"text"`
}

type smsResponse struct {
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

// Send posts one text message to the gateway.
func (c *SMSChannel) Send(ctx context.Context, msg Message) error {
	text := msg.Body
	if text == "" {
		text = msg.Variables["message"]
	}

	payload, err := json.Marshal(smsPayload{
		Message: smsMessage{
			To:   msg.To,
			From: c.from,
			Text: text,
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode sms payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to build sms request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authHeader())

	res, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "sms gateway unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return errors.New("sms gateway rejected message", errors.CategoryOperation).
			WithMetadata(map[string]any{"status": res.StatusCode})
	}

	var body smsResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err == nil {
		if body.StatusCode != "" && body.StatusCode != "2000" {
			return errors.New("sms gateway reported delivery failure", errors.CategoryOperation).
				WithMetadata(map[string]any{
					"status_code":    body.StatusCode,
					"status_message": body.StatusMessage,
				})
		}
	}

	return nil
}

// SendTemplate falls back to plain text, the gateway has no templates.
func (c *SMSChannel) SendTemplate(ctx context.Context, msg Message, template string) error {
	return c.Send(ctx, msg)
}

// authHeader signs date+salt with the API secret, per the gateway's
// HMAC-SHA256 scheme.
func (c *SMSChannel) authHeader() string {
	date := c.now().UTC().Format(time.RFC3339)
	salt := uuid.NewString()

	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(date + salt))
	signature := hex.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("HMAC-SHA256 apiKey=%s, date=%s, salt=%s, signature=%s", c.apiKey, date, salt, signature)
}

var _ Channel = (*SMSChannel)(nil)
