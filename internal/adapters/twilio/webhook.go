package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"smsrelay/internal/models"
	"smsrelay/internal/provider"
)

// ErrMissingSID is returned when a callback carries neither MessageSid nor SmsSid.
var ErrMissingSID = errors.New("callback is missing MessageSid/SmsSid")

// ParseCallback maps a form-encoded status or inbound-message callback onto provider.Message.
// Only the resource id is required.
func ParseCallback(form url.Values) (*provider.Message, error) {
	sid := firstNonEmpty(form.Get("MessageSid"), form.Get("SmsSid"))
	if sid == "" {
		return nil, ErrMissingSID
	}

	msg := &provider.Message{
		ID:         sid,
		RawStatus:  firstNonEmpty(form.Get("MessageStatus"), form.Get("SmsStatus")),
		To:         form.Get("To"),
		Body:       form.Get("Body"),
		APIVersion: form.Get("ApiVersion"),
	}
	msg.AccountSID = optional(form.Get("AccountSid"))
	msg.MessagingServiceSID = optional(form.Get("MessagingServiceSid"))
	msg.From = optional(form.Get("From"))
	msg.ErrorMessage = optional(form.Get("ErrorMessage"))
	if code, err := strconv.Atoi(strings.TrimSpace(form.Get("ErrorCode"))); err == nil {
		msg.ErrorCode = &code
	}
	if n, err := strconv.Atoi(form.Get("NumSegments")); err == nil {
		msg.NumSegments = n
	}
	if n, err := strconv.Atoi(form.Get("NumMedia")); err == nil {
		msg.NumMedia = n
	}

	// Media arrives as MediaUrl0..N / MediaContentType0..N, or as repeated keys.
	media := models.MediaMap{}
	for i := 0; ; i++ {
		idx := strconv.Itoa(i)
		u := form.Get("MediaUrl" + idx)
		if u == "" {
			break
		}
		media[mediaKey(media, form.Get("MediaContentType"+idx))] = u
	}
	urls := form["MediaUrl"]
	types := form["MediaContentType"]
	for i, u := range urls {
		kind := ""
		if i < len(types) {
			kind = types[i]
		}
		media[mediaKey(media, kind)] = u
	}
	if len(media) > 0 {
		msg.MediaURLs = media
		if msg.NumMedia == 0 {
			msg.NumMedia = len(media)
		}
	}

	status := msg.Status()
	switch {
	case status == models.StatusReceived:
		msg.Direction = models.DirectionInbound
	case msg.RawStatus != "" && status != models.StatusUnknown:
		msg.Direction = models.DirectionOutbound
	default:
		msg.Direction = models.DirectionUnknown
	}
	return msg, nil
}

// mediaKey keeps keys unique when several attachments share a content type.
func mediaKey(m models.MediaMap, kind string) string {
	if kind == "" {
		kind = "application/octet-stream"
	}
	key := kind
	for n := 1; ; n++ {
		if _, taken := m[key]; !taken {
			return key
		}
		key = kind + "#" + strconv.Itoa(n)
	}
}

// ValidateSignature checks the X-Twilio-Signature header: base64(HMAC-SHA1(authToken,
// fullURL + sorted(key+value)...)).
func ValidateSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	expected := ComputeSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ComputeSignature returns the expected signature for a callback.
func ComputeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
