package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	maxBodyBytes     = 64 << 10
	defaultListLimit = 20
	maxListLimit     = 100
)

// errBadRequest marks malformed input that never reached domain validation.
var errBadRequest = errors.New("bad request")

type groupRequest struct {
	Title string `json:"title"`
}

type memberRequest struct {
	ExternalID int64  `json:"external_id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
}

type transactionRequest struct {
	Kind         string  `json:"kind"`
	Amount       amount  `json:"amount"`
	PayerID      int64   `json:"payer_id"`
	Participants []int64 `json:"participants"`
	Note         string  `json:"note"`
}

// amount accepts either a JSON string ("12,50") or a JSON number (12.5) and
// keeps the decimal text for core.ParseAmount.
type amount string

func (a *amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a string or a number")
	}
	*a = amount(n.String())
	return nil
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON body", errBadRequest)
	}
	return nil
}

// pathID parses a positive integer path value.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, raw)
	}
	return id, nil
}

// parseLimit reads ?limit=, defaulting to defaultListLimit and capping at
// maxListLimit.
func parseLimit(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: invalid limit %q", errBadRequest, v)
	}
	return min(n, maxListLimit), nil
}

// sanitizeInput trims and removes control characters other than tab and
// newlines.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
