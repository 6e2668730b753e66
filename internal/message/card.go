package message

import "encoding/json"

// Component is one node of a rich card. The concrete types are Text,
// Button, Separator, Filler and Box.
type Component interface {
	componentType() string
}

// Layout is the direction a Box arranges its contents.
type Layout string

const (
	Vertical   Layout = "vertical"
	Horizontal Layout = "horizontal"
	Baseline   Layout = "baseline"
)

// Text is a run of text.
type Text struct {
	Text   string
	Size   string
	Weight string
	Color  string
	Align  string
	Margin string
	Wrap   bool
	Flex   *int
}

// Action is what a Button does when tapped.
type Action struct {
	Type  string // "uri" or "message"
	Label string
	URI   string
	Text  string
}

// URIAction opens uri.
func URIAction(label, uri string) Action {
	return Action{Type: "uri", Label: label, URI: uri}
}

// MessageAction sends text back as the user.
func MessageAction(label, text string) Action {
	return Action{Type: "message", Label: label, Text: text}
}

// Button is a tappable action.
type Button struct {
	Action Action
	Style  string
	Color  string
	Height string
	Margin string
	Flex   *int
}

// Separator draws a rule between components.
type Separator struct {
	Margin string
	Color  string
}

// Filler takes up free space.
type Filler struct {
	Flex *int
}

// Box groups components.
type Box struct {
	Layout          Layout
	Contents        []Component
	Spacing         string
	Margin          string
	BackgroundColor string
	PaddingAll      string
}

func (Text) componentType() string      { return "text" }
func (Button) componentType() string    { return "button" }
func (Separator) componentType() string { return "separator" }
func (Filler) componentType() string    { return "filler" }
func (Box) componentType() string       { return "box" }

// Card is a single-bubble rich message with a mandatory alt text.
type Card struct {
	AltText string
	Header  *Box
	Body    *Box
	Footer  *Box
}

// Sections returns the non-nil top-level boxes in display order.
func (c Card) Sections() []*Box {
	var out []*Box
	for _, b := range []*Box{c.Header, c.Body, c.Footer} {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// Walk calls fn for every component of the card, depth first.
func (c Card) Walk(fn func(Component)) {
	for _, b := range c.Sections() {
		walk(*b, fn)
	}
}

// Texts returns every text run of the card in display order.
func (c Card) Texts() []string {
	var out []string
	c.Walk(func(comp Component) {
		if t, ok := comp.(Text); ok {
			out = append(out, t.Text)
		}
	})
	return out
}

func walk(comp Component, fn func(Component)) {
	fn(comp)
	if b, ok := comp.(Box); ok {
		for _, child := range b.Contents {
			walk(child, fn)
		}
	}
}

// Map returns a copy of the card with fn applied to every component,
// children first. Used to normalize fields before sending.
func (c Card) Map(fn func(Component) Component) Card {
	out := Card{AltText: c.AltText}
	mapBox := func(b *Box) *Box {
		if b == nil {
			return nil
		}
		m, ok := mapComponent(*b, fn).(Box)
		if !ok {
			return b
		}
		return &m
	}
	out.Header = mapBox(c.Header)
	out.Body = mapBox(c.Body)
	out.Footer = mapBox(c.Footer)
	return out
}

func mapComponent(comp Component, fn func(Component) Component) Component {
	if b, ok := comp.(Box); ok {
		contents := make([]Component, len(b.Contents))
		for i, child := range b.Contents {
			contents[i] = mapComponent(child, fn)
		}
		b.Contents = contents
		comp = b
	}
	return fn(comp)
}

// MarshalJSON encodes the card as a LINE flex message object.
func (c Card) MarshalJSON() ([]byte, error) {
	bubble := map[string]interface{}{"type": "bubble"}
	if c.Header != nil {
		bubble["header"] = *c.Header
	}
	if c.Body != nil {
		bubble["body"] = *c.Body
	}
	if c.Footer != nil {
		bubble["footer"] = *c.Footer
	}
	return json.Marshal(map[string]interface{}{
		"type":     "flex",
		"altText":  c.AltText,
		"contents": bubble,
	})
}

type fields map[string]interface{}

func (f fields) set(key, v string) {
	if v != "" {
		f[key] = v
	}
}

func (f fields) setFlex(v *int) {
	if v != nil {
		f["flex"] = *v
	}
}

func (t Text) MarshalJSON() ([]byte, error) {
	f := fields{"type": "text", "text": t.Text}
	f.set("size", t.Size)
	f.set("weight", t.Weight)
	f.set("color", t.Color)
	f.set("align", t.Align)
	f.set("margin", t.Margin)
	if t.Wrap {
		f["wrap"] = true
	}
	f.setFlex(t.Flex)
	return json.Marshal(f)
}

func (a Action) MarshalJSON() ([]byte, error) {
	f := fields{"type": a.Type, "label": a.Label}
	f.set("uri", a.URI)
	f.set("text", a.Text)
	return json.Marshal(f)
}

func (b Button) MarshalJSON() ([]byte, error) {
	f := fields{"type": "button", "action": b.Action}
	f.set("style", b.Style)
	f.set("color", b.Color)
	f.set("height", b.Height)
	f.set("margin", b.Margin)
	f.setFlex(b.Flex)
	return json.Marshal(f)
}

func (s Separator) MarshalJSON() ([]byte, error) {
	f := fields{"type": "separator"}
	f.set("margin", s.Margin)
	f.set("color", s.Color)
	return json.Marshal(f)
}

func (fl Filler) MarshalJSON() ([]byte, error) {
	f := fields{"type": "filler"}
	f.setFlex(fl.Flex)
	return json.Marshal(f)
}

func (b Box) MarshalJSON() ([]byte, error) {
	contents := b.Contents
	if contents == nil {
		contents = []Component{}
	}
	f := fields{"type": "box", "layout": string(b.Layout), "contents": contents}
	f.set("spacing", b.Spacing)
	f.set("margin", b.Margin)
	f.set("backgroundColor", b.BackgroundColor)
	f.set("paddingAll", b.PaddingAll)
	return json.Marshal(f)
}
