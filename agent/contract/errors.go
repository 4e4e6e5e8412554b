package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")

	ErrChannelOpen     = errors.New("conversation channel could not be opened")
	ErrNoConversation  = errors.New("no active conversation")
	ErrNoNegotiation   = errors.New("no negotiation bound to the session")
	ErrAlreadyFinished = errors.New("negotiation already finished")
	ErrStepBudget      = errors.New("step budget exhausted")
)
