package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"smsrelay/internal/apperr"
	"smsrelay/internal/models"
	"smsrelay/internal/store"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code     apperr.Kind         `json:"code"`
	Message  string              `json:"message"`
	Errors   []apperr.FieldError `json:"errors,omitempty"`
	Accepted []*models.Message   `json:"accepted,omitempty"` // sent before a batch failed
}

// PageBody wraps a page of results.
type PageBody[T any] struct {
	Items []T   `json:"items"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
	Total int64 `json:"total"`
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// respondWithError maps err to its HTTP status. Unexpected errors are logged and their
// details withheld from the client.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorBody(r, err)
	respondWithJSON(w, status, body)
}

func errorBody(r *http.Request, err error) (int, ErrorBody) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	body := ErrorBody{Code: kind, Message: err.Error()}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body.Errors = appErr.Fields
		body.Message = appErr.Message
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		if kind == apperr.KindUnexpected {
			body.Message = "internal server error"
		}
	} else {
		log.Warn().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	}
	return status, body
}

// decodeJSON decodes the request body into dst. An empty body is allowed when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Wrap(apperr.KindInvalidRequest, err, "invalid JSON payload")
	}
	return nil
}

// pageFromQuery reads page, size, sortBy and order.
func pageFromQuery(r *http.Request) (store.Page, error) {
	q := r.URL.Query()
	p := store.Page{SortBy: q.Get("sortBy"), Order: q.Get("order")}
	var fields []apperr.FieldError
	for _, f := range []struct {
		name string
		dst  *int
	}{{"page", &p.Page}, {"size", &p.Size}} {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			fields = append(fields, apperr.FieldError{Field: f.name, Message: fmt.Sprintf("must be a non-negative integer, got %q", raw)})
			continue
		}
		*f.dst = v
	}
	if o := p.Order; o != "" && o != "asc" && o != "desc" {
		fields = append(fields, apperr.FieldError{Field: "order", Message: "must be asc or desc"})
	}
	if len(fields) > 0 {
		return p, apperr.InvalidFields(fields)
	}
	return p.Normalize(), nil
}

func pageBody[T any](items []T, page store.Page, total int64) PageBody[T] {
	if items == nil {
		items = []T{}
	}
	return PageBody[T]{Items: items, Page: page.Page, Size: page.Size, Total: total}
}
