package notify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kjstillabower/typhoon-alert-service/internal/message"
)

// Rich card limits enforced before sending.
const (
	MaxContentRunes  = 2000
	MaxAltTextRunes  = 400
	MaxBoxComponents = 12
	MaxButtonsPerRow = 4

	emptyPlaceholder = " "
)

// ValidationError lists every limit a card breaks.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid rich message: " + strings.Join(e.Violations, "; ")
}

// Normalize replaces empty text fields and button labels with a single space.
func Normalize(card message.Card) message.Card {
	if strings.TrimSpace(card.AltText) == "" {
		card.AltText = emptyPlaceholder
	}
	return card.Map(func(c message.Component) message.Component {
		switch v := c.(type) {
		case message.Text:
			if v.Text == "" {
				v.Text = emptyPlaceholder
			}
			return v
		case message.Button:
			if v.Action.Label == "" {
				v.Action.Label = emptyPlaceholder
			}
			return v
		}
		return c
	})
}

// Validate checks card against the rich message limits.
func Validate(card message.Card) error {
	var violations []string

	if n := utf8.RuneCountInString(card.AltText); n > MaxAltTextRunes {
		violations = append(violations, fmt.Sprintf("alt text %d characters exceeds %d", n, MaxAltTextRunes))
	}

	content := 0
	card.Walk(func(c message.Component) {
		switch v := c.(type) {
		case message.Text:
			if v.Text == "" {
				violations = append(violations, "empty text field")
			}
			content += utf8.RuneCountInString(v.Text)
		case message.Box:
			if len(v.Contents) > MaxBoxComponents {
				violations = append(violations, fmt.Sprintf("box has %d components, limit %d", len(v.Contents), MaxBoxComponents))
			}
			if v.Layout == message.Horizontal {
				buttons := 0
				for _, child := range v.Contents {
					if _, ok := child.(message.Button); ok {
						buttons++
					}
				}
				if buttons > MaxButtonsPerRow {
					violations = append(violations, fmt.Sprintf("row has %d buttons, limit %d", buttons, MaxButtonsPerRow))
				}
			}
		}
	})
	if content > MaxContentRunes {
		violations = append(violations, fmt.Sprintf("content text %d characters exceeds %d", content, MaxContentRunes))
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}
