package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldYear       = "year"
	FieldRecordID   = "record_id"
	FieldCollection = "collection"
	FieldRevision   = "revision"
	FieldClientName = "client_name"
	FieldInvoice    = "amount_on_invoice"
	FieldPaid       = "amount_paid"
)

// Standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentDashboard = "dashboard"
	ComponentWorker    = "worker"
	ComponentExport    = "export"
	ComponentBackend   = "backend"
)

// Standard operation names
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpExport = "export"
)

// LogFields builds attribute lists for slog.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	if requestID != "" {
		f[FieldRequestID] = requestID
	}
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRecordID adds a record id; empty ids are skipped.
func (f LogFields) WithRecordID(id string) LogFields {
	if id != "" {
		f[FieldRecordID] = id
	}
	return f
}

// WithRecord adds the identifying fields of a sales record. Amounts are logged
// as fixed two-decimal strings.
func (f LogFields) WithRecord(id string, year int, client, invoice, paid string) LogFields {
	f[FieldRecordID] = id
	f[FieldYear] = year
	f[FieldClientName] = client
	f[FieldInvoice] = invoice
	f[FieldPaid] = paid
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

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to key/value pairs for slog.
func (f LogFields) ToSlice() []any {
	out := make([]any, 0, len(f)*2)
	for k, v := range f {
		out = append(out, k, v)
	}
	return out
}
