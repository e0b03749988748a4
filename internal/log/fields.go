package log

import (
	"context"
	"errors"

	"despesas/internal/core"
)

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldQuery       = "query"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldUserAgent   = "user_agent"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldErrorType   = "error_type"
	FieldOperation   = "operation"
	FieldMonth       = "month"
	FieldNature      = "nature"
	FieldSource      = "source"
	FieldCategory    = "category"
	FieldAmountCents = "amount_cents"
	FieldTxID        = "transaction_id"
	FieldEventID     = "event_id"
	FieldEventKind   = "kind"
	FieldFile        = "file"
)

// Components defines standard component names
const (
	ComponentApp          = "app"
	ComponentHTTP         = "http"
	ComponentLedger       = "ledger"
	ComponentMaterializer = "materializer"
	ComponentAnalytics    = "analytics"
	ComponentCuration     = "curation"
	ComponentStorage      = "storage"
	ComponentAMQP         = "amqp"
	ComponentWorker       = "worker"
	ComponentCache        = "cache"
	ComponentSecurity     = "security"
	ComponentRateLimit    = "rate_limit"
	ComponentTrace        = "trace"
	ComponentBackend      = "backend"
)

// Operations defines standard operation names
const (
	OpCreate      = "create"
	OpRead        = "read"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpList        = "list"
	OpMaterialize = "materialize"
	OpImport      = "import"
	OpExport      = "export"
	OpValidate    = "validate"
	OpShutdown    = "shutdown"
	OpStartup     = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation  = "validation_error"
	ErrorTypeNotFound    = "not_found_error"
	ErrorTypeConflict    = "conflict_error"
	ErrorTypeUnavailable = "source_unavailable_error"
	ErrorTypeTransient   = "transient_error"
	ErrorTypeTimeout     = "timeout_error"
	ErrorTypeInternal    = "internal_error"
)

// ErrorType classifies err against the ledger error taxonomy.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, core.ErrValidation):
		return ErrorTypeValidation
	case errors.Is(err, core.ErrNotFound):
		return ErrorTypeNotFound
	case errors.Is(err, core.ErrConflict):
		return ErrorTypeConflict
	case errors.Is(err, core.ErrSourceUnavailable):
		return ErrorTypeUnavailable
	case errors.Is(err, core.ErrTransientStore):
		return ErrorTypeTransient
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	default:
		return ErrorTypeInternal
	}
}

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds the error and its taxonomy class
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = ErrorType(err)
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithTransaction adds the ledger row fields
func (f LogFields) WithTransaction(tx core.Transaction) LogFields {
	if tx.ID != 0 {
		f[FieldTxID] = tx.ID
	}
	f[FieldNature] = string(tx.Nature)
	f[FieldCategory] = tx.Category
	f[FieldAmountCents] = tx.Amount.Cents
	if !tx.Date.IsEmpty() {
		f[FieldMonth] = tx.Period().String()
	}
	if tx.Source != nil {
		f[FieldSource] = string(tx.Source.Type())
	}
	return f
}

func (f LogFields) WithEvent(ev core.LedgerEvent) LogFields {
	f[FieldEventID] = ev.ID
	f[FieldEventKind] = string(ev.Kind)
	if ev.Month != "" {
		f[FieldMonth] = ev.Month
	}
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
