package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vitwit/upiswitch/types"
)

// ErrorBody is the JSON body collaborators and the switch use to reject a
// request outside the XML dialect.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// ParseErrorBody extracts the error code from a JSON rejection body.
func ParseErrorBody(data []byte) (*ErrorBody, error) {
	var body ErrorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("failed to parse error body: %w", err)
	}
	body.Error = strings.TrimSpace(body.Error)
	if body.Error == "" {
		return nil, fmt.Errorf("error body has no error code")
	}
	return &body, nil
}

// ErrorBodyFor converts err into an ErrorBody, keeping the switch code when present.
func ErrorBodyFor(err error) ErrorBody {
	if se, ok := types.AsSwitchError(err); ok {
		return ErrorBody{Error: se.Code, Message: se.Error(), Details: se.Data}
	}
	return ErrorBody{Error: types.ErrInternal, Message: err.Error()}
}

// SerializeErrorBody marshals body.
func SerializeErrorBody(body ErrorBody) ([]byte, error) {
	return json.Marshal(body)
}
