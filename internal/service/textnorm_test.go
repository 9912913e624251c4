package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumenfeed/lumenfeed/internal/domain"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Payment FAILED", "payment failed"},
		{"strips punctuation", "error: can't save!", "error can t save"},
		{"collapses whitespace", "a  b\t\nc", "a b c"},
		{"expands abbreviations", "the btn shows an err msg", "the button shows an error message"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.input))
		})
	}
}

func TestBuildContext(t *testing.T) {
	i := &domain.Interaction{
		Title:       "Checkout broken",
		Description: "The payment BTN does nothing",
		Content: domain.InteractionContent{
			FreeText: "happens every time",
			Errors:   []string{"TypeError: undefined"},
			URL:      "https://shop.example.com/checkout",
		},
	}

	got := BuildContext(i)
	assert.Contains(t, got, "checkout broken")
	assert.Contains(t, got, "payment button does nothing")
	assert.Contains(t, got, "typeerror undefined")
	assert.Contains(t, got, "shop example com")

	// Pure: same state, same blob.
	assert.Equal(t, got, BuildContext(i))
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("the payment button does nothing on checkout")

	assert.Contains(t, tokens, "payment")
	assert.Contains(t, tokens, "button")
	assert.NotContains(t, tokens, "on", "short tokens are dropped")
	assert.NotContains(t, tokens, "")
}

func TestJaccard(t *testing.T) {
	a := Tokenize("payment button does nothing checkout")
	b := Tokenize("payment button broken checkout")

	assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9) // 3 shared of 6 total

	assert.Equal(t, 1.0, Jaccard(a, a))
	assert.Equal(t, 0.0, Jaccard(a, Tokenize("")))
	assert.Equal(t, 0.0, Jaccard(nil, nil))
}

func TestJaccard_AbbreviatedReportsMatchExactly(t *testing.T) {
	a := Tokenize(NormalizeText("Payment button does nothing on checkout"))
	b := Tokenize(NormalizeText("payment btn does nothing at checkout"))

	assert.Equal(t, 1.0, Jaccard(a, b))
}

func TestGroupDigest(t *testing.T) {
	a := GroupDigest("payment button does nothing checkout")
	b := GroupDigest("payment button does nothing checkout")
	c := GroupDigest("page is slow")

	assert.Equal(t, a, b, "identical normalized text mints the same id")
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^dup_[0-9a-f]{16}$`, a)
}
