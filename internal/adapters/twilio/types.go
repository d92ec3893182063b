package twilio

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// apiMessage is the Message resource as returned by the provider REST API.
type apiMessage struct {
	SID                 string   `json:"sid"`
	AccountSID          string   `json:"account_sid"`
	MessagingServiceSID *string  `json:"messaging_service_sid"`
	From                *string  `json:"from"`
	To                  string   `json:"to"`
	Body                string   `json:"body"`
	Status              string   `json:"status"`
	Direction           string   `json:"direction"`
	ErrorCode           *int     `json:"error_code"`
	ErrorMessage        *string  `json:"error_message"`
	NumSegments         flexInt  `json:"num_segments"`
	NumMedia            flexInt  `json:"num_media"`
	Price               *string  `json:"price"`
	PriceUnit           *string  `json:"price_unit"`
	APIVersion          string   `json:"api_version"`
	DateCreated         *apiTime `json:"date_created"`
	DateSent            *apiTime `json:"date_sent"`
	DateUpdated         *apiTime `json:"date_updated"`
}

// apiError is the error body returned with non-2xx responses.
type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// apiTime parses the RFC 1123 timestamps used by the provider ("Thu, 30 Jul 2015 20:12:31 +0000").
type apiTime struct {
	time.Time
}

func (t *apiTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return &time.ParseError{Layout: time.RFC1123Z, Value: s}
}

func (t *apiTime) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// flexInt accepts both JSON numbers and numeric strings; the API sends counts as strings.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		var f float64
		if jerr := json.Unmarshal([]byte(s), &f); jerr != nil {
			return err
		}
		v = int(f)
	}
	*n = flexInt(v)
	return nil
}
