// Package taxonomy maps tool and oracle failures to a fixed set of error
// categories with static recovery metadata. Classification is pure and total:
// every error text maps to exactly one category, falling back to Unknown.
package taxonomy

import "strings"

// Category identifies a class of failure.
type Category string

const (
	ElementNotFound        Category = "element_not_found"
	SelectorAmbiguous      Category = "selector_ambiguous"
	ElementNotInteractable Category = "element_not_interactable"
	StaleElement           Category = "stale_element"
	Timeout                Category = "timeout"
	PageLoadTimeout        Category = "page_load_timeout"
	ScriptTimeout          Category = "script_timeout"
	NetworkError           Category = "network_error"
	DNSError               Category = "dns_error"
	ConnectionRefused      Category = "connection_refused"
	TLSError               Category = "tls_error"
	HTTPClientError        Category = "http_client_error"
	HTTPServerError        Category = "http_server_error"
	RateLimited            Category = "rate_limited"
	PermissionDenied       Category = "permission_denied"
	AuthFailed             Category = "auth_failed"
	CaptchaDetected        Category = "captcha_detected"
	SessionExpired         Category = "session_expired"
	PageCrash              Category = "page_crash"
	InvalidState           Category = "invalid_state"
	NavigationFailed       Category = "navigation_failed"
	ContentMismatch        Category = "content_mismatch"
	InvalidInput           Category = "invalid_input"
	ValidationError        Category = "validation_error"
	OutOfMemory            Category = "out_of_memory"
	DiskFull               Category = "disk_full"
	Unknown                Category = "unknown"
)

// Severity ranks how dangerous a category is for the run.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Strategy names a remediation approach the self-correction engine knows
// how to turn into a concrete alternative action.
type Strategy string

const (
	StrategyWaitAndRetry        Strategy = "wait_and_retry"
	StrategyAlternativeSelector Strategy = "alternative_selector"
	StrategyRefreshAndRetry     Strategy = "refresh_and_retry"
	StrategyEscalateToUser      Strategy = "escalate_to_user"
	StrategyAbort               Strategy = "abort"
)

// Metadata describes the static recovery policy for a category. The table is
// read-only at run time; fatality is decided here and nowhere else.
type Metadata struct {
	Severity          Severity
	Retryable         bool
	DefaultStrategies []Strategy
	MaxRetries        int
	BackoffMultiplier float64
}

var metadataTable = map[Category]Metadata{
	ElementNotFound: {
		Severity:          SeverityMedium,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyAlternativeSelector, StrategyWaitAndRetry},
		MaxRetries:        3,
		BackoffMultiplier: 1.5,
	},
	SelectorAmbiguous: {
		Severity:          SeverityMedium,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyAlternativeSelector},
		MaxRetries:        2,
		BackoffMultiplier: 1.0,
	},
	ElementNotInteractable: {
		Severity:          SeverityMedium,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyWaitAndRetry, StrategyAlternativeSelector},
		MaxRetries:        3,
		BackoffMultiplier: 1.5,
	},
	StaleElement: {
		Severity:          SeverityMedium,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyRefreshAndRetry, StrategyAlternativeSelector},
		MaxRetries:        2,
		BackoffMultiplier: 1.0,
	},
	Timeout: {
		Severity:          SeverityMedium,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyWaitAndRetry, StrategyRefreshAndRetry},
		MaxRetries:        3,
		BackoffMultiplier: 2.0,
	},
	PageLoadTimeout: {
		Severity:          SeverityMedium,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyRefreshAndRetry, StrategyWaitAndRetry},
		MaxRetries:        2,
		BackoffMultiplier: 2.0,
	},
	ScriptTimeout: {
		Severity:          SeverityMedium,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyWaitAndRetry},
		MaxRetries:        2,
		BackoffMultiplier: 2.0,
	},
	NetworkError: {
		Severity:          SeverityHigh,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyWaitAndRetry, StrategyRefreshAndRetry},
		MaxRetries:        3,
		BackoffMultiplier: 2.0,
	},
	DNSError: {
		Severity:          SeverityHigh,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyWaitAndRetry},
		MaxRetries:        2,
		BackoffMultiplier: 2.0,
	},
	ConnectionRefused: {
		Severity:          SeverityHigh,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyWaitAndRetry},
		MaxRetries:        3,
		BackoffMultiplier: 2.0,
	},
	TLSError: {
		Severity:          SeverityHigh,
		Retryable:         false,
		DefaultStrategies: []Strategy{StrategyEscalateToUser},
		MaxRetries:        0,
		BackoffMultiplier: 1.0,
	},
	HTTPClientError: {
		Severity:          SeverityMedium,
		Retryable:         false,
		DefaultStrategies: []Strategy{StrategyEscalateToUser},
		MaxRetries:        0,
		BackoffMultiplier: 1.0,
	},
	HTTPServerError: {
		Severity:          SeverityHigh,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyWaitAndRetry},
		MaxRetries:        3,
		BackoffMultiplier: 2.0,
	},
	RateLimited: {
		Severity:          SeverityMedium,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyWaitAndRetry},
		MaxRetries:        3,
		BackoffMultiplier: 3.0,
	},
	PermissionDenied: {
		Severity:          SeverityCritical,
		Retryable:         false,
		DefaultStrategies: []Strategy{StrategyAbort},
		MaxRetries:        0,
		BackoffMultiplier: 1.0,
	},
	AuthFailed: {
		Severity:          SeverityHigh,
		Retryable:         false,
		DefaultStrategies: []Strategy{StrategyEscalateToUser},
		MaxRetries:        0,
		BackoffMultiplier: 1.0,
	},
	CaptchaDetected: {
		Severity:          SeverityHigh,
		Retryable:         false,
		DefaultStrategies: []Strategy{StrategyEscalateToUser},
		MaxRetries:        0,
		BackoffMultiplier: 1.0,
	},
	SessionExpired: {
		Severity:          SeverityHigh,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyRefreshAndRetry, StrategyEscalateToUser},
		MaxRetries:        1,
		BackoffMultiplier: 1.0,
	},
	PageCrash: {
		Severity:          SeverityHigh,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyRefreshAndRetry},
		MaxRetries:        1,
		BackoffMultiplier: 1.0,
	},
	InvalidState: {
		Severity:          SeverityMedium,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyRefreshAndRetry, StrategyWaitAndRetry},
		MaxRetries:        2,
		BackoffMultiplier: 1.5,
	},
	NavigationFailed: {
		Severity:          SeverityMedium,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyRefreshAndRetry, StrategyWaitAndRetry},
		MaxRetries:        2,
		BackoffMultiplier: 1.5,
	},
	ContentMismatch: {
		Severity:          SeverityLow,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyWaitAndRetry, StrategyRefreshAndRetry},
		MaxRetries:        2,
		BackoffMultiplier: 1.0,
	},
	InvalidInput: {
		Severity:          SeverityLow,
		Retryable:         false,
		DefaultStrategies: []Strategy{StrategyEscalateToUser},
		MaxRetries:        0,
		BackoffMultiplier: 1.0,
	},
	ValidationError: {
		Severity:          SeverityLow,
		Retryable:         false,
		DefaultStrategies: []Strategy{StrategyEscalateToUser},
		MaxRetries:        0,
		BackoffMultiplier: 1.0,
	},
	OutOfMemory: {
		Severity:          SeverityCritical,
		Retryable:         false,
		DefaultStrategies: []Strategy{StrategyAbort},
		MaxRetries:        0,
		BackoffMultiplier: 1.0,
	},
	DiskFull: {
		Severity:          SeverityCritical,
		Retryable:         false,
		DefaultStrategies: []Strategy{StrategyAbort},
		MaxRetries:        0,
		BackoffMultiplier: 1.0,
	},
	Unknown: {
		Severity:          SeverityMedium,
		Retryable:         true,
		DefaultStrategies: []Strategy{StrategyWaitAndRetry, StrategyEscalateToUser},
		MaxRetries:        1,
		BackoffMultiplier: 1.0,
	},
}

// classifierRule matches any of its substrings against a lowercased error
// text. Rules are evaluated in order; the first match wins, so more specific
// patterns come first.
type classifierRule struct {
	category Category
	patterns []string
}

var classifierRules = []classifierRule{
	{CaptchaDetected, []string{"captcha", "recaptcha", "hcaptcha", "challenge required"}},
	{PermissionDenied, []string{"permission denied", "permission_denied", "not authorized", "access denied"}},
	{AuthFailed, []string{"authentication failed", "auth failed", "invalid credentials", "login failed", "401", "unauthorized"}},
	{SessionExpired, []string{"session expired", "session invalid", "session not found", "logged out"}},
	{RateLimited, []string{"rate limit", "too many requests", "429", "quota exceeded"}},
	{OutOfMemory, []string{"out of memory", "cannot allocate memory", "oom"}},
	{DiskFull, []string{"no space left", "disk full", "disk quota"}},
	{TLSError, []string{"tls", "ssl", "certificate"}},
	{DNSError, []string{"no such host", "dns", "name resolution"}},
	{ConnectionRefused, []string{"connection refused", "connection reset", "broken pipe"}},
	{PageLoadTimeout, []string{"page load timeout", "page load timed out", "navigation timeout"}},
	{ScriptTimeout, []string{"script timeout", "script timed out", "evaluation timed out"}},
	{Timeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{SelectorAmbiguous, []string{"ambiguous", "multiple elements", "matched more than one"}},
	{ElementNotInteractable, []string{"not interactable", "not clickable", "element not visible", "not visible", "obscured", "disabled element"}},
	{StaleElement, []string{"stale element", "stale reference", "detached from", "node is detached"}},
	{ElementNotFound, []string{"element not found", "no element", "no such element", "could not find element", "selector not found", "no node found"}},
	{PageCrash, []string{"page crashed", "tab crashed", "renderer crashed", "browser crashed"}},
	{NavigationFailed, []string{"navigation failed", "failed to navigate", "err_aborted"}},
	{InvalidState, []string{"invalid state", "invalid session state", "wrong state"}},
	{ContentMismatch, []string{"content mismatch", "unexpected content", "unexpected page"}},
	{HTTPServerError, []string{"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable"}},
	{HTTPClientError, []string{"400", "403", "404", "405", "bad request", "forbidden", "not found"}},
	{ValidationError, []string{"validation", "schema", "required field", "missing field"}},
	{InvalidInput, []string{"invalid input", "invalid parameter", "invalid argument", "malformed"}},
	{NetworkError, []string{"network", "connection", "socket", "econn", "unreachable"}},
}

// Classify maps free-text error messages to a category. It never fails:
// text with no matching pattern classifies as Unknown.
func Classify(errText string) Category {
	lower := strings.ToLower(errText)
	for _, rule := range classifierRules {
		for _, pattern := range rule.patterns {
			if strings.Contains(lower, pattern) {
				return rule.category
			}
		}
	}
	return Unknown
}

// MetadataOf returns the static recovery metadata for a category. Unlisted
// categories resolve to the Unknown row so lookups are total as well.
func MetadataOf(category Category) Metadata {
	if meta, ok := metadataTable[category]; ok {
		return meta
	}
	return metadataTable[Unknown]
}

// Categories returns every category with a metadata row. Used by the
// self-consistency tests and for building oracle prompts.
func Categories() []Category {
	result := make([]Category, 0, len(metadataTable))
	for category := range metadataTable {
		result = append(result, category)
	}
	return result
}

// IsFatal reports whether a category must abort the run rather than enter
// any retry loop.
func IsFatal(category Category) bool {
	meta := MetadataOf(category)
	if meta.Severity != SeverityCritical {
		return false
	}
	for _, s := range meta.DefaultStrategies {
		if s == StrategyAbort {
			return true
		}
	}
	return false
}
