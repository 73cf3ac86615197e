package recommend

import (
	"errors"

	"github.com/kjstillabower/agro-advisor/internal/client"
	"github.com/kjstillabower/agro-advisor/internal/validation"
)

// ErrMalformedPrediction is returned when a response names crops but lacks
// the confidence or soil quality needed to score them.
var ErrMalformedPrediction = errors.New("prediction response missing confidence or soil quality")

// ValidationError blocks request construction. It lists every violation.
type ValidationError struct {
	Violations validation.Violations
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Violations.Error()
}

// ServiceError is an error the prediction service reported in its response
// body. It matches client.ErrServiceFailure.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	return "service failure: " + e.Message
}

func (e *ServiceError) Is(target error) bool { return target == client.ErrServiceFailure }
