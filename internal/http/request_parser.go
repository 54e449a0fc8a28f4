// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing request data: the sales form
// body, sent either as JSON or form-encoded, and the year query parameter.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"salesrecord/internal/core"
)

const maxBodyBytes = 64 << 10

var errEmptyBody = errors.New("empty request body")

// parseFormInput reads the sales form from the body. JSON is detected by its
// leading brace so clients that omit Content-Type still work.
func parseFormInput(w http.ResponseWriter, r *http.Request) (core.FormInput, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return core.FormInput{}, fmt.Errorf("read body: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return core.FormInput{}, errEmptyBody
	}

	if body[0] == '{' {
		var in core.FormInput
		if err := json.Unmarshal(body, &in); err != nil {
			return core.FormInput{}, fmt.Errorf("decode JSON: %w", err)
		}
		return in, nil
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return core.FormInput{}, fmt.Errorf("decode form: %w", err)
	}
	return core.FormInputFromValues(values), nil
}

// yearParam returns the year query parameter, if present and numeric.
func yearParam(query url.Values) (int, bool) {
	v := strings.TrimSpace(query.Get("year"))
	if v == "" {
		return 0, false
	}
	y, err := strconv.Atoi(v)
	if err != nil || y < 1 || y > 9999 {
		return 0, false
	}
	return y, true
}

// displayYears is the year selector's content: the years present, or the
// current year alone when there are no records.
func displayYears(years []int, now time.Time) []int {
	if len(years) == 0 {
		return []int{now.Year()}
	}
	return years
}
