package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindConfig     Kind = "config"
	KindResolve    Kind = "resolve"
	KindCookie     Kind = "cookie"
	KindTimeout    Kind = "timeout"
	KindNavigation Kind = "navigation"
	KindMessage    Kind = "message"
	KindGate       Kind = "gate"
	KindRemote     Kind = "remote"
	KindNotFound   Kind = "not_found"
	KindCodec      Kind = "codec"
	KindCanceled   Kind = "canceled"
)

// Error is a classified failure of a run or of one site within it.
type Error struct {
	Kind Kind
	Op   string
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("snapshot: %s %s: %s: %v", e.Op, e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("snapshot: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// MarshalJSON renders the error for reports.
func (e *Error) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Kind    Kind   `json:"kind"`
		Op      string `json:"op"`
		URL     string `json:"url,omitempty"`
		Message string `json:"message"`
	}{e.Kind, e.Op, e.URL, msg})
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
