package handler

import (
	"strings"

	dErrors "lifetag/pkg/domain-errors"
)

const maxPINLength = 12

type ProofRequest struct {
	PIN string `json:"pin"`
}

func (r *ProofRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.PIN = strings.TrimSpace(r.PIN)
	if r.PIN == "" || len(r.PIN) > maxPINLength {
		return dErrors.New(dErrors.CodeValidation, "pin is required")
	}
	return nil
}
