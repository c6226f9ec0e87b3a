package notification_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catconnect/go-identity/notification"
)

var authHeaderPattern = regexp.MustCompile(
	`^HMAC-SHA256 apiKey=(\S+), date=(\S+), salt=(\S+), signature=([0-9a-f]{64})$`,
)

func newSMSGateway(t *testing.T, status int, body string, capture *http.Request, payload *[]byte) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			*capture = *r
		}
		if payload != nil {
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			*payload = raw
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server
}

func TestSMSChannelSend(t *testing.T) {
	ctx := context.Background()

	t.Run("signs and posts the message", func(t *testing.T) {
		var captured http.Request
		var payload []byte
		server := newSMSGateway(t, http.StatusOK, `{"statusCode":"2000","statusMessage":"OK"}`, &captured, &payload)

		channel, err := notification.NewSMSChannel(server.URL, "test-api-key", "test-api-secret", "0201234567")
		require.NoError(t, err)

		err = channel.Send(ctx, notification.Message{
			To:   "+821012345678",
			Body: "Your verification code is 482913",
		})
		require.NoError(t, err)

		var sent struct {
			Message struct {
				To   string `json:"to"`
				From string `json:"from"`
				Text string `json:"text"`
			} `json:"message"`
		}
		require.NoError(t, json.Unmarshal(payload, &sent))
		assert.Equal(t, "+821012345678", sent.Message.To)
		assert.Equal(t, "0201234567", sent.Message.From)
		assert.Equal(t, "Your verification code is 482913", sent.Message.Text)

		auth := captured.Header.Get("Authorization")
		match := authHeaderPattern.FindStringSubmatch(auth)
		require.NotNil(t, match, "unexpected Authorization header %q", auth)
		assert.Equal(t, "test-api-key", match[1])

		// the signature must verify against date+salt
		mac := hmac.New(sha256.New, []byte("test-api-secret"))
		mac.Write([]byte(match[2] + match[3]))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), match[4])
	})

	t.Run("falls back to the message variable", func(t *testing.T) {
		var payload []byte
		server := newSMSGateway(t, http.StatusOK, `{"statusCode":"2000"}`, nil, &payload)

		channel, err := notification.NewSMSChannel(server.URL, "test-api-key", "test-api-secret", "0201234567")
		require.NoError(t, err)

		err = channel.Send(ctx, notification.Message{
			To:        "+821012345678",
			Variables: map[string]string{"message": "Your verification code is 482913"},
		})
		require.NoError(t, err)
		assert.Contains(t, string(payload), "Your verification code is 482913")
	})

	t.Run("http failure", func(t *testing.T) {
		server := newSMSGateway(t, http.StatusBadGateway, "", nil, nil)

		channel, err := notification.NewSMSChannel(server.URL, "test-api-key", "test-api-secret", "0201234567")
		require.NoError(t, err)

		err = channel.Send(ctx, notification.Message{To: "+821012345678", Body: "hi"})
		require.Error(t, err)
	})

	t.Run("gateway level failure", func(t *testing.T) {
		server := newSMSGateway(t, http.StatusOK, `{"statusCode":"4000","statusMessage":"invalid number"}`, nil, nil)

		channel, err := notification.NewSMSChannel(server.URL, "test-api-key", "test-api-secret", "0201234567")
		require.NoError(t, err)

		err = channel.Send(ctx, notification.Message{To: "garbage", Body: "hi"})
		require.Error(t, err)
	})

	t.Run("requires credentials", func(t *testing.T) {
		_, err := notification.NewSMSChannel("", "key", "secret", "0201234567")
		require.Error(t, err)

		_, err = notification.NewSMSChannel("https://gateway.example.com", "", "secret", "0201234567")
		require.Error(t, err)
	})
}

func TestSMSChannelKind(t *testing.T) {
	channel, err := notification.NewSMSChannel("https://gateway.example.com/send", "key", "secret", "0201234567")
	require.NoError(t, err)

	assert.Equal(t, notification.KindSMS, channel.Kind())
	assert.False(t, channel.SupportsTemplates())
}
