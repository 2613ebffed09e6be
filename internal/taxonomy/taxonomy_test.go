package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		errText  string
		expected Category
	}{
		{"element not found", "element not found: #submit-button", ElementNotFound},
		{"no such element", "NoSuchElementError: no such element for selector .price", ElementNotFound},
		{"ambiguous selector", "selector matched more than one element", SelectorAmbiguous},
		{"not interactable", "element not visible and cannot be clicked", ElementNotInteractable},
		{"stale reference", "stale element reference: node is detached from document", StaleElement},
		{"generic timeout", "operation timed out after 30s", Timeout},
		{"deadline exceeded", "context deadline exceeded", Timeout},
		{"page load timeout", "navigation timeout of 30000 ms exceeded", PageLoadTimeout},
		{"script timeout", "script timeout: evaluation timed out", ScriptTimeout},
		{"dns", "dial tcp: lookup example.invalid: no such host", DNSError},
		{"connection refused", "dial tcp 127.0.0.1:80: connection refused", ConnectionRefused},
		{"tls", "x509: certificate signed by unknown authority", TLSError},
		{"rate limit", "HTTP 429: too many requests", RateLimited},
		{"server error", "upstream returned 503 service unavailable", HTTPServerError},
		{"client error", "request failed with status 404 not found", HTTPClientError},
		{"permission", "PERMISSION_DENIED: caller lacks rights for tool", PermissionDenied},
		{"auth", "authentication failed for user", AuthFailed},
		{"captcha", "reCAPTCHA challenge required on page", CaptchaDetected},
		{"session expired", "session expired, please log in again", SessionExpired},
		{"page crash", "tab crashed during navigation", PageCrash},
		{"navigation", "failed to navigate to https://example.com", NavigationFailed},
		{"validation", "validation error: required field 'email'", ValidationError},
		{"invalid input", "invalid parameter: url", InvalidInput},
		{"oom", "fatal: out of memory", OutOfMemory},
		{"disk", "write /tmp/x: no space left on device", DiskFull},
		{"network fallback", "socket hang up", NetworkError},
		{"gibberish", "zorblat quux frobnicated", Unknown},
		{"empty", "", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.errText))
		})
	}
}

func TestClassifyIsTotal(t *testing.T) {
	// Classification must return a category with a metadata row for any
	// input, including pathological ones.
	inputs := []string{"", " ", "\x00\xff", "ERROR", "名前が見つかりません"}
	for _, input := range inputs {
		category := Classify(input)
		meta := MetadataOf(category)
		assert.NotEmpty(t, meta.DefaultStrategies, "category %q has no strategies", category)
	}
}

func TestCaptchaWinsOverTimeout(t *testing.T) {
	// A captcha page frequently also times out; the captcha signal must win
	// because it requires human intervention.
	assert.Equal(t, CaptchaDetected, Classify("captcha challenge timed out"))
}

func TestCriticalCategoriesAreNotRetryable(t *testing.T) {
	for _, category := range Categories() {
		meta := MetadataOf(category)
		if meta.Severity != SeverityCritical {
			continue
		}

		assert.False(t, meta.Retryable, "critical category %q must not be retryable", category)
		assert.Zero(t, meta.MaxRetries, "critical category %q must have zero retries", category)
		require.NotEmpty(t, meta.DefaultStrategies)
		for _, strategy := range meta.DefaultStrategies {
			assert.Contains(t,
				[]Strategy{StrategyEscalateToUser, StrategyAbort}, strategy,
				"critical category %q has a recovery strategy other than escalate/abort", category)
		}
	}
}

func TestMetadataTableConsistency(t *testing.T) {
	for _, category := range Categories() {
		meta := MetadataOf(category)
		assert.NotEmpty(t, meta.Severity, "category %q has no severity", category)
		assert.NotEmpty(t, meta.DefaultStrategies, "category %q has no strategies", category)
		assert.GreaterOrEqual(t, meta.BackoffMultiplier, 1.0, "category %q backoff below 1", category)
		if !meta.Retryable {
			assert.Zero(t, meta.MaxRetries, "non-retryable category %q allows retries", category)
		}
	}
}

func TestMetadataOfUnknownCategory(t *testing.T) {
	meta := MetadataOf(Category("does_not_exist"))
	assert.Equal(t, MetadataOf(Unknown), meta)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(PermissionDenied))
	assert.True(t, IsFatal(OutOfMemory))
	assert.True(t, IsFatal(DiskFull))
	assert.False(t, IsFatal(ElementNotFound))
	assert.False(t, IsFatal(Unknown))
	assert.False(t, IsFatal(CaptchaDetected)) // high severity, but escalates rather than aborts
}
