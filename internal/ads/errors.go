package ads

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/api/googleapi"
)

// PartialFailureError reports rows rejected by a request sent with partial
// failure enabled. The rest of the request was applied.
type PartialFailureError struct {
	Operation string
	Code      int
	Message   string
	Details   []string
}

func (e *PartialFailureError) Error() string {
	if len(e.Details) == 0 {
		return e.Operation + ": partial failure: " + e.Message
	}
	return e.Operation + ": partial failure: " + strings.Join(e.Details, "; ")
}

// Messages lists every rejected row message.
func (e *PartialFailureError) Messages() []string {
	if len(e.Details) == 0 {
		return []string{e.Error()}
	}
	return e.Details
}

// status is the google.rpc.Status shape used for partialFailureError.
type status struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Details []failureDetail `json:"details"`
}

type failureDetail struct {
	Errors []failureEntry `json:"errors"`
}

type failureEntry struct {
	Message  string `json:"message"`
	Location struct {
		FieldPathElements []pathElement `json:"fieldPathElements"`
	} `json:"location"`
}

type pathElement struct {
	FieldName string `json:"fieldName"`
	Index     *int   `json:"index,omitempty"`
}

// rowFields are the repeated request fields whose index identifies a row.
var rowFields = map[string]bool{
	"operations":             true,
	"conversion_adjustments": true,
}

// partialFailure converts a non-empty partialFailureError into an error.
func partialFailure(operation string, raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var st status
	if err := json.Unmarshal(raw, &st); err != nil {
		return &PartialFailureError{Operation: operation, Message: string(raw)}
	}
	if st.Code == 0 && st.Message == "" && len(st.Details) == 0 {
		return nil
	}

	pf := &PartialFailureError{Operation: operation, Code: st.Code, Message: st.Message}
	for _, d := range st.Details {
		for _, e := range d.Errors {
			pf.Details = append(pf.Details, e.describe())
		}
	}
	return pf
}

func (e failureEntry) describe() string {
	for _, el := range e.Location.FieldPathElements {
		if el.Index != nil && rowFields[el.FieldName] {
			return "row " + strconv.Itoa(*el.Index) + ": " + e.Message
		}
	}
	return e.Message
}

// IsRateLimited reports whether err is a 429 from the API.
func IsRateLimited(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests
	}
	return false
}

// IsRetryable reports whether err is worth retrying: rate limiting or a
// server side error.
func IsRetryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return false
}
