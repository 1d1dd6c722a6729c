package classifier

import (
	"net/http"
	"regexp"

	"github.com/ishaanstalk/newscrawler/internal/config"
	"github.com/ishaanstalk/newscrawler/internal/fetch"
)

// SignatureValidator implements internal/fetch's ContentValidator contract
// by matching a 2xx response body against two configured regex lists: soft
// failures (bot challenge / JS interstitial pages, re-queued for headless
// rendering) and hard failures (an outright block, which trips the host's
// error-budget circuit). Patterns are config-driven and hot-reloadable
// rather than a fixed literal list.
type SignatureValidator struct {
	live *config.LiveConfig

	soft []*regexp.Regexp
	hard []*regexp.Regexp
}

// NewSignatureValidator builds a validator backed by a hot-reloadable
// LiveConfig. Patterns are recompiled lazily on every Validate call against
// the live snapshot, since config changes should take effect immediately.
func NewSignatureValidator(live *config.LiveConfig) *SignatureValidator {
	return &SignatureValidator{live: live}
}

// NewStaticSignatureValidator builds a validator against a fixed
// ClassifierConfig snapshot, compiling its patterns once. Used in tests
// and anywhere hot-reload isn't wired up.
func NewStaticSignatureValidator(cfg config.ClassifierConfig) *SignatureValidator {
	return &SignatureValidator{
		soft: compileAll(cfg.SoftFailureSignatures),
		hard: compileAll(cfg.HardFailureSignatures),
	}
}

func compileAll(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

// Validate implements fetch.ContentValidator. Hard-failure signatures are
// checked first since they're the more severe verdict.
func (v *SignatureValidator) Validate(body []byte, headers http.Header) fetch.ContentVerdict {
	hard, soft := v.patterns()

	for _, re := range hard {
		if re.Match(body) {
			return fetch.ContentHardFailure
		}
	}
	for _, re := range soft {
		if re.Match(body) {
			return fetch.ContentSoftFailure
		}
	}
	return fetch.ContentValid
}

func (v *SignatureValidator) patterns() (hard, soft []*regexp.Regexp) {
	if v.live != nil {
		cfg := v.live.Get().Classifier
		return compileAll(cfg.HardFailureSignatures), compileAll(cfg.SoftFailureSignatures)
	}
	return v.hard, v.soft
}
