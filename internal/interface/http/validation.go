package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// requestValidator checks request DTOs and renders failures with JSON field
// names in English.
type requestValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

func newRequestValidator() *requestValidator {
	v := validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	trans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("option_key", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "a", "b", "c", "d":
			return true
		}
		return false
	})
	_ = v.RegisterTranslation("option_key", trans,
		func(t ut.Translator) error { return t.Add("option_key", "{0} must be one of a, b, c, d", false) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T("option_key", fe.Field())
			return s
		},
	)

	return &requestValidator{validate: v, translator: trans}
}

// Check validates dst. The returned slice is empty when dst is valid.
func (v *requestValidator) Check(dst interface{}) []APIError {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return []APIError{{Code: "validation_error", Message: err.Error()}}
	}
	out := make([]APIError, 0, len(fields))
	for _, fe := range fields {
		// Drop the struct name: "createQuestionRequest.question.text" -> "question.text".
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		out = append(out, APIError{
			Code:    "validation_error",
			Message: fe.Translate(v.translator),
			Field:   field,
		})
	}
	return out
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes())
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		msg := fmt.Sprintf("request body must be valid JSON: %v", err)
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		writeErrors(w, http.StatusBadRequest, APIError{Code: "invalid_json", Message: msg})
		return false
	}

	if errs := s.validator.Check(dst); len(errs) > 0 {
		writeErrors(w, http.StatusBadRequest, errs...)
		return false
	}
	return true
}

func (s *Server) maxBodyBytes() int64 {
	if s.config.MaxBodyBytes > 0 {
		return s.config.MaxBodyBytes
	}
	return 1 << 20
}
