package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/suPer8Hu/cyberguard/internal/auth"
	"github.com/suPer8Hu/cyberguard/internal/common"
)

// Every frame in both directions is {"type": ..., "data": {...}}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound event types.
const (
	EventAuthenticate = "authenticate"
	EventSendMessage  = "send_message"
	EventCancel       = "cancel"
	EventSelectModel  = "select_model"
)

// Outbound event types.
const (
	EventConnected  = "connected"
	EventAuthResult = "auth_result"
	EventAck        = "ack"
	EventFragment   = "fragment"
	EventComplete   = "complete"
	EventScamNotice = "scam_notice"
	EventError      = "error"
)

type AuthenticatePayload struct {
	Token string `json:"token" validate:"required"`
}

type SendMessagePayload struct {
	JobID     string `json:"jobId" validate:"required,max=128"`
	SessionID string `json:"sessionId" validate:"required,max=64"`
	Content   string `json:"content" validate:"required,max=8000"`
	ModelID   string `json:"modelId" validate:"max=128"`
}

type CancelPayload struct {
	JobID string `json:"jobId" validate:"required"`
}

type SelectModelPayload struct {
	ModelID string `json:"modelId" validate:"max=128"`
}

type AuthResult struct {
	Success bool           `json:"success"`
	User    *auth.Identity `json:"user,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type Connected struct {
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	User      auth.Identity `json:"user"`
}

type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Ack struct {
	JobID    string    `json:"jobId,omitempty"`
	Accepted bool      `json:"accepted"`
	Error    *AckError `json:"error,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode unmarshals data into dst and validates it. Failures are VALIDATION_ERROR.
func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return common.NewError(common.CodeValidation, "malformed payload", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			msg := fe.Field() + " is " + fe.Tag()
			if fe.Tag() == "max" {
				msg = fmt.Sprintf("%s exceeds %s characters", fe.Field(), fe.Param())
			}
			return common.NewError(common.CodeValidation, msg, err)
		}
		return common.NewError(common.CodeValidation, "invalid payload", err)
	}
	return nil
}

func encode(eventType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Data: data})
}
