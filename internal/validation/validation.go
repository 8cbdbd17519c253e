package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/judging"
	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground validator with the judging-specific rules.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterValidation("rfc3339", validateRFC3339)
	v.RegisterStructValidation(validateSubmission, judging.Submission{})
	return &Validator{validate: v}
}

// Validate checks s and flattens validation failures into one error.
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
}

func validateRFC3339(fl validator.FieldLevel) bool {
	_, ok := judging.ParseTimestamp(fl.Field().String())
	return ok
}

func validateSubmission(sl validator.StructLevel) {
	sub := sl.Current().Interface().(judging.Submission)
	if sub.Verification != nil {
		if sub.Verification.Score < 0 || sub.Verification.Score > 100 {
			sl.ReportError(sub.Verification.Score, "Verification.Score", "score", "score_range", "")
		}
		if sub.Verification.Confidence < 0 || sub.Verification.Confidence > 1 {
			sl.ReportError(sub.Verification.Confidence, "Verification.Confidence", "confidence", "confidence_range", "")
		}
	}
}
