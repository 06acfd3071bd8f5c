package adaptation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/les2feup/CityLink/internal/schema"
	"github.com/les2feup/CityLink/internal/transport"
	"github.com/les2feup/CityLink/internal/wot"
)

// actionKind ties a VFS action affordance to the action name the node reports
// back in its response event.
type actionKind struct {
	affordance string
	wire       string
}

var (
	actionWrite  = actionKind{affordance: ActionVFSWrite, wire: "write"}
	actionDelete = actionKind{affordance: ActionVFSDelete, wire: "delete"}
)

// ActionMismatchError reports a VFS response naming a different action than
// the one requested: a response to the wrong action, fatal to that operation
// and distinct from a device-reported error.
type ActionMismatchError struct {
	Requested string
	Reported  string
}

func (e *ActionMismatchError) Error() string {
	return fmt.Sprintf("vfs action mismatch: requested %q but response reports %q", e.Requested, e.Reported)
}

// DeviceError is a failure the node itself reported in a VFS response.
type DeviceError struct {
	Action  string
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device reported %s error: %s", e.Action, e.Message)
}

// Response is the VFS action response event payload.
type Response struct {
	Timestamp struct {
		EpochYear int   `json:"epoch_year"`
		Seconds   int64 `json:"seconds"`
	} `json:"timestamp"`
	Error   bool            `json:"error"`
	Action  string          `json:"action"`
	Message json.RawMessage `json:"message"`
}

const responseSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["timestamp", "error", "action", "message"],
	"properties": {
		"timestamp": {
			"type": "object",
			"required": ["seconds"],
			"properties": {
				"epoch_year": {"type": "integer"},
				"seconds": {"type": "integer", "minimum": 0}
			}
		},
		"error": {"type": "boolean"},
		"action": {"enum": ["write", "delete"]},
		"message": {
			"oneOf": [
				{"type": "string"},
				{"type": "array", "items": {"type": "string"}}
			]
		}
	}
}`

var compiledResponseSchema = schema.MustCompile(responseSchema)

// vfsSession runs request/response VFS exchanges against one node. Responses
// are matched to actions purely by kind and sequencing, so a session never
// issues two actions concurrently.
type vfsSession struct {
	td      *wot.ThingDescription
	client  transport.Client
	timeout time.Duration
}

// invoke performs one VFS action: subscribe to the response event first (so a
// fast response cannot be lost), publish the action, then wait for a response
// bounded by the session timeout. The subscription is released on every exit
// path.
func (s *vfsSession) invoke(ctx context.Context, kind actionKind, input any) error {
	actionB, err := resolveActionBinding(s.td, kind.affordance)
	if err != nil {
		return err
	}
	eventB, err := resolveEventBinding(s.td, EventVFSActionResp)
	if err != nil {
		return err
	}

	responses := make(chan []byte, 1)
	err = s.client.Subscribe(eventB.Topic, eventB.QoS, func(msg transport.Message) {
		select {
		case responses <- msg.Payload:
		default:
			// A second response for one action has no receiver; the
			// exchange already resolved.
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", eventB.Topic, err)
	}
	defer func() {
		if err := s.client.Unsubscribe(eventB.Topic); err != nil {
			// Best effort: the session's connection is short-lived.
			_ = err
		}
	}()

	if err := s.client.Publish(actionB.Topic, actionB.QoS, actionB.Retain, marshalInput(input)); err != nil {
		return fmt.Errorf("invoking %s: %w", kind.affordance, err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case payload := <-responses:
		return checkResponse(kind, payload)
	case <-timer.C:
		return fmt.Errorf("%s: no response within %s", kind.affordance, s.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkResponse validates a response payload and matches it to the requested
// action kind.
func checkResponse(kind actionKind, payload []byte) error {
	if err := schema.Validate(compiledResponseSchema, "vfs action response", payload); err != nil {
		return err
	}

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return schema.NewValidationError("vfs action response", err.Error())
	}

	if resp.Action != kind.wire {
		return &ActionMismatchError{Requested: kind.wire, Reported: resp.Action}
	}
	if resp.Error {
		return &DeviceError{Action: resp.Action, Message: flattenMessage(resp.Message)}
	}
	return nil
}

// flattenMessage renders the string-or-array response message for errors.
func flattenMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return fmt.Sprintf("%v", many)
	}
	return string(raw)
}
