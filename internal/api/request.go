package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// bodyTooLargeError reports a body cut off by RequestBodyLimitMiddleware.
type bodyTooLargeError struct {
	limit int64
}

func (e *bodyTooLargeError) Error() string {
	return fmt.Sprintf("request body too large (max %d bytes)", e.limit)
}

func asTooLarge(err error) *bodyTooLargeError {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &bodyTooLargeError{limit: maxErr.Limit}
	}
	return nil
}

// decodeBody decodes exactly one JSON value into v. Unknown fields are
// rejected so typos in controller specs fail loudly.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if tooLarge := asTooLarge(err); tooLarge != nil {
			return tooLarge
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if tooLarge := asTooLarge(err); tooLarge != nil {
			return tooLarge
		}
		return errors.New("invalid request body: must contain a single JSON value")
	}
	return nil
}

// decodeBodyOrWrite decodes into v, writing 400 or 413 on failure.
func decodeBodyOrWrite(w http.ResponseWriter, r *http.Request, v any) bool {
	err := decodeBody(r, v)
	if err == nil {
		return true
	}
	var tooLarge *bodyTooLargeError
	if errors.As(err, &tooLarge) {
		writeTooLarge(w, tooLarge.limit)
	} else {
		writeInvalid(w, err.Error())
	}
	return false
}

// readBodyOrWrite returns the raw body for merge-patch endpoints.
func readBodyOrWrite(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		writeInvalid(w, "request body is required")
		return nil, false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if tooLarge := asTooLarge(err); tooLarge != nil {
			writeTooLarge(w, tooLarge.limit)
		} else {
			writeInvalid(w, "failed to read body")
		}
		return nil, false
	}
	return body, true
}

// boolQueryOrWrite parses an optional boolean filter. Absent yields nil.
func boolQueryOrWrite(w http.ResponseWriter, r *http.Request, key string) (*bool, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		writeInvalid(w, key+": must be true or false")
		return nil, false
	}
	return &b, true
}

// isSwitchRecordID reports whether s is a canonical lowercase UUID, the
// form the switcher assigns to records.
func isSwitchRecordID(s string) bool {
	id, err := uuid.Parse(s)
	return err == nil && id.String() == s
}

func switchRecordIDOrWrite(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !isSwitchRecordID(id) {
		writeInvalid(w, "id: must be a switch record UUID")
		return "", false
	}
	return id, true
}
