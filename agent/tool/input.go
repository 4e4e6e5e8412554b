package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
)

const (
	maxProsCons = 3
)

type SendMessageInput struct {
	Body string `json:"body"`
}

type RecordStateInput struct {
	Price       *float64 `json:"price"`
	Description string   `json:"description"`
}

type OfferInput struct {
	Description string   `json:"description"`
	Price       *float64 `json:"price"`
	Pros        []string `json:"pros"`
	Cons        []string `json:"cons"`
}

type FinishNegotiationInput struct {
	Offers []OfferInput `json:"offers"`
}

// ValidationError is a rejected tool call. No side effect has run when it is
// returned.
type ValidationError struct {
	Tool   string `json:"tool"`
	Detail string `json:"detail"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return contractx.ErrValidation
}

// Text is the structured error handed back to the model.
func (e *ValidationError) Text() string {
	raw, err := json.Marshal(struct {
		Error  string `json:"error"`
		Tool   string `json:"tool"`
		Detail string `json:"detail"`
	}{"invalid_arguments", e.Tool, e.Detail})
	if err != nil {
		return e.Error()
	}
	return string(raw)
}

func invalid(tool, format string, args ...any) *ValidationError {
	return &ValidationError{Tool: tool, Detail: fmt.Sprintf(format, args...)}
}

// decodeStrict parses model arguments into dst, rejecting unknown fields and
// trailing data.
func decodeStrict(tool, raw string, dst any) *ValidationError {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalid(tool, "malformed arguments: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return invalid(tool, "unexpected data after arguments")
	}
	return nil
}

func (in SendMessageInput) validate() *ValidationError {
	if strings.TrimSpace(in.Body) == "" {
		return invalid(ToolSendMessage, "body must be a non-empty string")
	}
	return nil
}

func (in RecordStateInput) validate() *ValidationError {
	if err := validatePrice(ToolRecordState, "price", in.Price); err != nil {
		return err
	}
	return nil
}

func (in FinishNegotiationInput) validate() *ValidationError {
	if len(in.Offers) == 0 {
		return invalid(ToolFinishNegotiation, "offers must contain at least one offer")
	}
	for i, o := range in.Offers {
		if strings.TrimSpace(o.Description) == "" {
			return invalid(ToolFinishNegotiation, "offers[%d].description must be a non-empty string", i)
		}
		if err := validatePrice(ToolFinishNegotiation, fmt.Sprintf("offers[%d].price", i), o.Price); err != nil {
			return err
		}
		if len(o.Pros) > maxProsCons {
			return invalid(ToolFinishNegotiation, "offers[%d].pros has %d items, max %d", i, len(o.Pros), maxProsCons)
		}
		if len(o.Cons) > maxProsCons {
			return invalid(ToolFinishNegotiation, "offers[%d].cons has %d items, max %d", i, len(o.Cons), maxProsCons)
		}
	}
	return nil
}

func validatePrice(tool, field string, p *float64) *ValidationError {
	if p == nil {
		return invalid(tool, "%s is required", field)
	}
	if math.IsNaN(*p) || math.IsInf(*p, 0) || *p < 0 {
		return invalid(tool, "%s must be a non-negative number", field)
	}
	return nil
}
