package translator

import (
	"fmt"

	"github.com/flowplane/flowplane/pkg/model"
)

// TranslateError is a single resource's translation failure, attached to
// that resource rather than aborting the whole tenant pass.
type TranslateError struct {
	Key     model.Key
	Code    model.DiagnosticCode
	Message string
}

func (e *TranslateError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Key, e.Code, e.Message)
}

func unresolvedRef(k model.Key, refKind model.Kind, refName string) *TranslateError {
	return &TranslateError{
		Key:     k,
		Code:    model.CodeUnresolvedRef,
		Message: fmt.Sprintf("references %s %q which is absent or excluded", refKind, refName),
	}
}

func duplicateName(k model.Key) *TranslateError {
	return &TranslateError{
		Key:     k,
		Code:    model.CodeDuplicateName,
		Message: fmt.Sprintf("duplicate name within (%s, %s); store should have prevented this", k.Scope, k.Kind),
	}
}

func invalidConfig(k model.Key, why string) *TranslateError {
	return &TranslateError{Key: k, Code: model.CodeInvalidConfig, Message: why}
}

func unsupportedFeature(k model.Key, why string) *TranslateError {
	return &TranslateError{Key: k, Code: model.CodeUnsupportedFeature, Message: why}
}
