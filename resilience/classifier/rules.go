package classifier

import (
	"regexp"

	"github.com/BaSui01/provisionflow/types"
)

// Rule pairs a pattern with the error type it implies.
type Rule struct {
	Pattern *regexp.Regexp
	Type    types.ErrorType
}

func rule(expr string, t types.ErrorType) Rule {
	return Rule{Pattern: regexp.MustCompile(`(?i)` + expr), Type: t}
}

// defaultRules is evaluated top to bottom. Order matters: CRITICAL before
// PERMANENT before TRANSIENT.
var defaultRules = []Rule{
	// CRITICAL: unrecoverable without intervention
	rule(`out[ _]?of[ _]?memory|memory exhausted|heap exhausted|cannot allocate memory`, types.ErrorTypeCritical),
	rule(`corrupt`, types.ErrorTypeCritical),
	rule(`security (violation|breach|exception|error|token)|securityexception|unauthori[sz]ed|authenticat|access[ _]?denied|invalid (credentials|token|signature)|expired ?token|\b401\b|\b403\b`, types.ErrorTypeCritical),
	rule(`certificate|x509|tls handshake|\bssl\b`, types.ErrorTypeCritical),

	// PERMANENT: retrying cannot help
	rule(`validation|invalid|malformed|unsupported`, types.ErrorTypePermanent),
	rule(`not[ _]?found|does not exist|no such`, types.ErrorTypePermanent),
	rule(`bad request|\b400\b|\b404\b|\b409\b|\b422\b`, types.ErrorTypePermanent),
	rule(`conflict|already exists`, types.ErrorTypePermanent),

	// TRANSIENT: worth another attempt
	rule(`timeout|timed out|deadline exceeded`, types.ErrorTypeTransient),
	rule(`connection[ _](reset|refused|closed|aborted)|econnreset|econnrefused|broken pipe|unexpected eof`, types.ErrorTypeTransient),
	rule(`\b429\b|\b502\b|\b503\b|\b504\b|too many requests|service[ _]unavailable|bad gateway`, types.ErrorTypeTransient),
	rule(`throttl|rate[ _]?(exceeded|limit)`, types.ErrorTypeTransient),
	rule(`network[ _-](is[ _-])?unreachable|host[ _-](is[ _-])?unreachable|enetunreach|ehostunreach|no route to host`, types.ErrorTypeTransient),
	rule(`temporar(y|ily)|try again|unavailable`, types.ErrorTypeTransient),
}

// DefaultRules returns a copy of the default rule table.
func DefaultRules() []Rule {
	rules := make([]Rule, len(defaultRules))
	copy(rules, defaultRules)
	return rules
}
