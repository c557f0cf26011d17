package classifier

import (
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/provisionflow/types"
)

// Classifier applies an ordered rule table to errors.
type Classifier struct {
	rules []Rule
	now   func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithRules replaces the rule table. Rules are evaluated in the given order.
func WithRules(rules ...Rule) Option {
	return func(c *Classifier) {
		c.rules = slices.Clone(rules)
	}
}

// WithClock overrides the clock used to stamp error contexts.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		c.now = now
	}
}

// New creates a classifier using the default rule table unless overridden.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		rules: DefaultRules(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify maps err onto the error taxonomy. When code is empty it is read
// from the error chain. Unmatched errors are PERMANENT.
func (c *Classifier) Classify(err error, code string) types.ErrorType {
	if err == nil {
		return types.ErrorTypePermanent
	}
	if code == "" {
		code = ErrorCodeOf(err)
	}
	haystack := strings.ToLower(err.Error() + " " + code + " " + kindOf(err))
	for _, r := range c.rules {
		if r.Pattern.MatchString(haystack) {
			return r.Type
		}
	}
	return types.ErrorTypePermanent
}

// ShouldRetry is true only for TRANSIENT errors.
func ShouldRetry(t types.ErrorType) bool {
	return t == types.ErrorTypeTransient
}

// RequiresEscalation is true only for CRITICAL errors.
func RequiresEscalation(t types.ErrorType) bool {
	return t == types.ErrorTypeCritical
}

// ErrorContextParams carries the attribution of a failed operation.
type ErrorContextParams struct {
	AgentID        string
	WorkflowID     string
	OperationName  string
	Parameters     map[string]any
	RetryAttempt   int
	ErrorCode      string
	PreviousErrors []types.ErrorContext
}

// NewErrorContext classifies err and assembles an ErrorContext with a fresh id,
// the current timestamp and a copy of the previous error chain.
func (c *Classifier) NewErrorContext(err error, p ErrorContextParams) types.ErrorContext {
	code := p.ErrorCode
	if code == "" {
		code = ErrorCodeOf(err)
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return types.ErrorContext{
		ErrorID:             uuid.NewString(),
		Timestamp:           c.now(),
		ErrorType:           c.Classify(err, code),
		ErrorCode:           code,
		ErrorMessage:        msg,
		StackTrace:          string(debug.Stack()),
		AgentID:             p.AgentID,
		WorkflowID:          p.WorkflowID,
		OperationName:       p.OperationName,
		OperationParameters: maps.Clone(p.Parameters),
		RetryAttempt:        p.RetryAttempt,
		PreviousErrors:      slices.Clone(p.PreviousErrors),
	}
}

// apiError matches errors that expose a service error code, such as the
// smithy APIError returned by the AWS SDK.
type apiError interface {
	ErrorCode() string
}

// ErrorCodeOf extracts an error code from the chain: a *types.Error code first,
// then any ErrorCode() method.
func ErrorCodeOf(err error) string {
	if err == nil {
		return ""
	}
	if code := types.GetErrorCode(err); code != "" {
		return string(code)
	}
	var ae apiError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

// kindOf names the dynamic types along the error chain, e.g. "*net.OpError".
func kindOf(err error) string {
	var kinds []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		kinds = append(kinds, fmt.Sprintf("%T", e))
	}
	return strings.Join(kinds, " ")
}

// NewErrorInfo projects an ErrorContext onto the details stored with
// checkpoints and audit logs.
func NewErrorInfo(ec types.ErrorContext) *types.ErrorInfo {
	return ec.Info()
}
