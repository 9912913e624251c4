package service

import (
	"strings"

	"github.com/lumenfeed/lumenfeed/internal/domain"
)

// labelRule maps keyword membership in the normalized text to a label.
// Rules are independent: any number may fire for one interaction.
type labelRule struct {
	label    string
	keywords []string
}

// labelRules is evaluated in order. Single-word keywords match whole tokens;
// multi-word keywords match as phrases.
var labelRules = []labelRule{
	{"crash", []string{"crash", "crashed", "uncaught", "unhandled", "exception", "fatal", "segfault"}},
	{"network", []string{"network", "api", "timeout", "fetch", "cors", "500", "502", "503", "504"}},
	{"auth", []string{"login", "logout", "signin", "signup", "password", "unauthorized", "session expired", "403"}},
	{"ui", []string{"button", "layout", "overlap", "misaligned", "css", "render", "scroll", "modal"}},
	{"performance", []string{"slow", "lag", "laggy", "freeze", "frozen", "performance", "loading forever"}},
	{"data-loss", []string{"lost", "disappeared", "missing data", "wiped", "not saved"}},
	{"payment", []string{"payment", "checkout", "billing", "invoice", "refund", "card declined"}},
}

// ApplyLabelRules evaluates every rule against the normalized text and returns
// the labels that fired, in rule order.
func ApplyLabelRules(normalized string) []string {
	tokens := make(map[string]struct{})
	for _, f := range strings.Fields(normalized) {
		tokens[f] = struct{}{}
	}

	var labels []string
	for _, rule := range labelRules {
		for _, kw := range rule.keywords {
			var hit bool
			if strings.Contains(kw, " ") {
				hit = strings.Contains(normalized, kw)
			} else {
				_, hit = tokens[kw]
			}
			if hit {
				labels = append(labels, rule.label)
				break
			}
		}
	}
	return labels
}

// MergeLabels combines rule-based labels with externally suggested ones,
// deduplicated in order, capped at the label limit.
func MergeLabels(ruleLabels, externalLabels []string) []string {
	seen := make(map[string]struct{})
	var merged []string
	for _, l := range append(append([]string{}, ruleLabels...), externalLabels...) {
		l = strings.TrimSpace(strings.ToLower(l))
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		merged = append(merged, l)
		if len(merged) == domain.MaxLabels {
			break
		}
	}
	return merged
}
