package model

import "time"

// DiagnosticCode is the Translator's closed error taxonomy (spec §4.2).
type DiagnosticCode string

const (
	CodeUnresolvedRef      DiagnosticCode = "UNRESOLVED_REF"
	CodeDuplicateName      DiagnosticCode = "DUPLICATE_NAME"
	CodeInvalidConfig      DiagnosticCode = "INVALID_CONFIG"
	CodeUnsupportedFeature DiagnosticCode = "UNSUPPORTED_FEATURE"
)

// Diagnostic records why a declarative resource was excluded from a
// tenant's snapshot. It never corrupts the snapshot; it is surfaced
// alongside it.
type Diagnostic struct {
	Scope   Scope
	Kind    Kind
	Name    string
	Code    DiagnosticCode
	Message string
	Since   time.Time
}

func (d Diagnostic) Key() Key { return Key{Scope: d.Scope, Kind: d.Kind, Name: d.Name} }
