package service

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Masks substituted for sensitive content. InputValueMask replaces the whole
// value of sensitive input fields and whole values that look like credentials.
const (
	InputValueMask = "***"
	EmailMask      = "***@***.***"
	PhoneMask      = "***-***-****"
	CardMask       = "****-****-****-****"
	SSNMask        = "***-**-****"
)

// Event type ids from the capture SDK's event stream.
const (
	eventFullSnapshot = 2
	eventIncremental  = 3
	eventPlugin       = 6
)

// Incremental event sources.
const (
	sourceMutation = 0
	sourceInput    = 5
)

// DOM node types within snapshots.
const (
	nodeElement = 2
	nodeText    = 3
)

// sensitiveInputTypes are input field types whose value is replaced outright
// with the fixed mask regardless of content.
var sensitiveInputTypes = map[string]struct{}{
	"password":    {},
	"email":       {},
	"tel":         {},
	"ssn":         {},
	"credit-card": {},
}

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\(?\d{3}\)?[-.\s]\d{3}[-.\s]?\d{4}`)
	cardRe  = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)
	ssnRe   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)

	wholePhoneRe = regexp.MustCompile(`^\+?[\d\-.\s()]{7,20}$`)
	digitRunRe   = regexp.MustCompile(`^\d{4,}$`)
)

// Event is one entry in a replay chunk's event stream.
type Event struct {
	Type      int             `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Node is a captured DOM node. Element nodes carry a tag and attributes;
// text nodes carry text content.
type Node struct {
	ID          int            `json:"id,omitempty"`
	Type        int            `json:"type"`
	TagName     string         `json:"tagName,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	ChildNodes  []*Node        `json:"childNodes,omitempty"`
	TextContent string         `json:"textContent,omitempty"`
}

type snapshotData struct {
	Node *Node `json:"node"`
}

type textMutation struct {
	ID    int     `json:"id"`
	Value *string `json:"value"`
}

type attributeMutation struct {
	ID         int            `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

type addedNode struct {
	ParentID int   `json:"parentId"`
	NextID   *int  `json:"nextId"`
	Node     *Node `json:"node"`
}

type incrementalData struct {
	Source     int                 `json:"source"`
	ID         int                 `json:"id,omitempty"`
	Text       string              `json:"text,omitempty"`
	IsChecked  *bool               `json:"isChecked,omitempty"`
	Texts      []textMutation      `json:"texts,omitempty"`
	Attributes []attributeMutation `json:"attributes,omitempty"`
	Adds       []addedNode         `json:"adds,omitempty"`
	Removes    json.RawMessage     `json:"removes,omitempty"`
}

type pluginData struct {
	Plugin  string          `json:"plugin"`
	Payload json.RawMessage `json:"payload"`
}

type consolePayload struct {
	Level   string            `json:"level,omitempty"`
	Trace   []string          `json:"trace,omitempty"`
	Payload []json.RawMessage `json:"payload,omitempty"`
}

// SanitizeEvents redacts sensitive content from every event, returning a new
// slice. Events whose payload does not match the expected shape are passed
// through untouched rather than dropped, so replay timing stays intact.
func SanitizeEvents(events []Event) []Event {
	out := make([]Event, len(events))
	for i, ev := range events {
		out[i] = sanitizeEvent(ev)
	}
	return out
}

func sanitizeEvent(ev Event) Event {
	switch ev.Type {
	case eventFullSnapshot:
		var data snapshotData
		if err := json.Unmarshal(ev.Data, &data); err != nil || data.Node == nil {
			return ev
		}
		data.Node = redactNode(data.Node)
		return remarshal(ev, data)

	case eventIncremental:
		var data incrementalData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return ev
		}
		switch data.Source {
		case sourceMutation:
			for i, t := range data.Texts {
				if t.Value != nil {
					masked := RedactText(*t.Value)
					data.Texts[i].Value = &masked
				}
			}
			for i, a := range data.Attributes {
				data.Attributes[i].Attributes = redactAttributes(a.Attributes, "")
			}
			for i, add := range data.Adds {
				if add.Node != nil {
					data.Adds[i].Node = redactNode(add.Node)
				}
			}
		case sourceInput:
			data.Text = RedactText(data.Text)
		default:
			return ev
		}
		return remarshal(ev, data)

	case eventPlugin:
		var data pluginData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return ev
		}
		var payload consolePayload
		if err := json.Unmarshal(data.Payload, &payload); err != nil {
			return ev
		}
		for i, arg := range payload.Payload {
			var s string
			if err := json.Unmarshal(arg, &s); err != nil {
				continue
			}
			masked, _ := json.Marshal(RedactText(s))
			payload.Payload[i] = masked
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return ev
		}
		data.Payload = raw
		return remarshal(ev, data)
	}
	return ev
}

func remarshal(ev Event, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		return ev
	}
	ev.Data = raw
	return ev
}

// redactNode returns a redacted deep copy of the node tree. The input tree is
// never mutated.
func redactNode(n *Node) *Node {
	if n == nil {
		return nil
	}

	out := &Node{
		ID:      n.ID,
		Type:    n.Type,
		TagName: n.TagName,
	}

	if n.Type == nodeText || n.TextContent != "" {
		out.TextContent = RedactText(n.TextContent)
	}

	if n.Attributes != nil {
		out.Attributes = redactAttributes(n.Attributes, strings.ToLower(n.TagName))
	}

	if n.ChildNodes != nil {
		out.ChildNodes = make([]*Node, len(n.ChildNodes))
		for i, child := range n.ChildNodes {
			out.ChildNodes[i] = redactNode(child)
		}
	}
	return out
}

// redactAttributes returns a redacted copy of an attribute map. For input
// elements with a sensitive type the value attribute is replaced outright.
func redactAttributes(attrs map[string]any, tagName string) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}

	if tagName == "input" || tagName == "" {
		if inputType, ok := out["type"].(string); ok {
			if _, sensitive := sensitiveInputTypes[strings.ToLower(inputType)]; sensitive {
				if _, hasValue := out["value"]; hasValue {
					out["value"] = InputValueMask
				}
				return out
			}
		}
	}

	for k, v := range out {
		if s, ok := v.(string); ok {
			out[k] = RedactText(s)
		}
	}
	return out
}

// RedactText masks personally identifiable content in free text. Whole values
// that look like typed input (an email, a phone number, a bare digit run) are
// collapsed entirely before the field-level substitutions run.
func RedactText(s string) string {
	if s == "" {
		return s
	}

	if looksLikeInputValue(s) {
		return InputValueMask
	}

	s = emailRe.ReplaceAllString(s, EmailMask)
	s = phoneRe.ReplaceAllString(s, PhoneMask)
	s = cardRe.ReplaceAllString(s, CardMask)
	s = ssnRe.ReplaceAllString(s, SSNMask)
	return s
}

// looksLikeInputValue reports whether the entire trimmed string is a single
// typed value rather than prose.
func looksLikeInputValue(s string) bool {
	v := strings.TrimSpace(s)
	if v == "" {
		return false
	}
	if emailRe.MatchString(v) && !strings.Contains(v, " ") {
		return true
	}
	if digitRunRe.MatchString(v) {
		return true
	}
	if wholePhoneRe.MatchString(v) && strings.IndexFunc(v, isDigit) >= 0 {
		return true
	}
	return false
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
