// Package http is the JSON transport over the ledger engine.
//
// This file holds the helpers that turn query strings, path values and
// JSON bodies into domain values. Every parse failure is a validation
// error so it maps to 422 like any other bad input.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"despesas/internal/core"

	"github.com/shopspring/decimal"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// errMalformedBody marks bodies that are not valid JSON for the endpoint.
var errMalformedBody = errors.New("malformed request body")

// decodeJSON reads r's body into dst. Unknown fields are rejected so typos
// in field names do not silently drop values.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errMalformedBody)
		}
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", errMalformedBody)
	}
	return nil
}

// Amount is a money value in a request. Clients may send it as a JSON
// string ("12,34" or "12.34") or as a JSON number.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*a = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(str))
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("amount must be a string or a number, got %s", s)
	}
	*a = Amount(s)
	return nil
}

// Money parses a strictly positive amount.
func (a Amount) Money() (core.Money, error) {
	cents, err := core.ParseDecimalToCents(string(a))
	if err != nil {
		return core.Money{}, core.Validationf("invalid amount %q: %v", string(a), err)
	}
	return core.Money{Cents: cents}, nil
}

// Budget parses a non-negative amount; budgets may be zero.
func (a Amount) Budget() (core.Money, error) {
	s := strings.Replace(string(a), ",", ".", 1)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return core.Money{}, core.Validationf("invalid amount %q", string(a))
	}
	if d.IsZero() {
		return core.Money{}, nil
	}
	if d.IsNegative() {
		return core.Money{}, core.Validationf("budget amount must not be negative")
	}
	return a.Money()
}

// parseDateOr parses YYYY-MM-DD, returning def for an empty string.
func parseDateOr(s string, def core.Date) (core.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return core.ParseDate(s)
}

// parseOptionalDate parses YYYY-MM-DD; empty gives the zero Date.
func parseOptionalDate(s string) (core.Date, error) {
	return parseDateOr(s, core.Date{})
}

// parseOptionalMonth parses YYYY-MM; empty gives the zero Month.
func parseOptionalMonth(s string) (core.Month, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Month{}, nil
	}
	return core.ParseMonth(s)
}

// queryInt reads an integer query parameter, def when absent.
func queryInt(q url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.Validationf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// queryFloat reads a float query parameter, def when absent.
func queryFloat(q url.Values, key string, def float64) (float64, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, core.Validationf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

// pathID reads the {id} path value.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.Validationf("invalid id %q", raw)
	}
	return id, nil
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
