package httpx

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// ValidationFields flattens a validator error into a field -> message map
// for a problem response. A nil error yields nil so callers can gate on
// len(fields) alone.
func ValidationFields(err error) map[string]string {
	if err == nil {
		return nil
	}
	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fieldErr := range verrs {
			fields[fieldErr.Field()] = fieldErr.Error()
		}
		return fields
	}
	fields["payload"] = err.Error()
	return fields
}
