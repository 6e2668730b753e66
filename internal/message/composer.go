package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/kjstillabower/typhoon-alert-service/internal/cyclone"
	"github.com/kjstillabower/typhoon-alert-service/internal/models"
)

// Card colors.
const (
	ColorDanger  = "#FF4757"
	ColorSafe    = "#2ED573"
	ColorMedium  = "#FFA726"
	ColorUnknown = "#999999"
	ColorMuted   = "#666666"
	ColorWhite   = "#FFFFFF"
)

// maxCardWarnings keeps the warnings box within the per-box component limit
// (title + warnings + overflow line). The plain text always lists all of them.
const maxCardWarnings = 9

// Composer builds notifications for a status result.
type Composer struct {
	TravelRegion  string
	CheckupRegion string
	TravelDate    time.Time
	CheckupDate   time.Time
	DashboardURL  string
	StatusKeyword string
}

// Compose returns the rich card and its plain-text equivalent. Every risk
// level and warning string in the card also appears in the text.
func (c *Composer) Compose(result models.StatusResult, snap models.MonitoringSnapshot) (Card, string) {
	detail := cycloneDetail(snap)
	return c.card(result, detail), c.text(result, detail)
}

func (c *Composer) travelLabel() string {
	return fmt.Sprintf("✈️ %s %s flight risk", shortDate(c.TravelDate), c.TravelRegion)
}

func (c *Composer) checkupLabel() string {
	return fmt.Sprintf("🏥 %s %s checkup risk", shortDate(c.CheckupDate), c.CheckupRegion)
}

func statusLine(s models.Status) string {
	if s == models.StatusDanger {
		return "🔴 Alert status: at risk"
	}
	return "🟢 Alert status: no significant risk"
}

func headerLine(ts time.Time) string {
	return "🚨 Typhoon alert - " + ts.In(DisplayZone).Format("2006-01-02 15:04")
}

func (c *Composer) text(result models.StatusResult, detail []string) string {
	var b strings.Builder
	b.WriteString(headerLine(result.Timestamp) + "\n")
	b.WriteString("---------------------------\n")
	b.WriteString(statusLine(result.Overall) + "\n\n")
	fmt.Fprintf(&b, "%s: %s\n", c.travelLabel(), orUnknown(result.Travel.Explanation))
	fmt.Fprintf(&b, "%s: %s\n\n", c.checkupLabel(), orUnknown(result.Checkup.Explanation))

	if len(result.Warnings) > 0 {
		b.WriteString("🌪️ Weather warnings:\n")
		for _, w := range result.Warnings {
			b.WriteString("• " + w + "\n")
		}
		b.WriteString("\n")
	} else {
		b.WriteString("✅ No active warnings\n\n")
	}

	if len(detail) > 0 {
		b.WriteString("📊 Typhoon details:\n")
		for _, line := range detail {
			b.WriteString(line + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func (c *Composer) card(result models.StatusResult, detail []string) Card {
	statusColor := ColorSafe
	if result.Overall == models.StatusDanger {
		statusColor = ColorDanger
	}

	header := &Box{
		Layout:          Vertical,
		BackgroundColor: statusColor,
		PaddingAll:      "16px",
		Contents: []Component{
			Text{Text: headerLine(result.Timestamp), Weight: "bold", Color: ColorWhite, Size: "md", Wrap: true},
		},
	}

	body := &Box{
		Layout:  Vertical,
		Spacing: "sm",
		Contents: []Component{
			Text{Text: statusLine(result.Overall), Weight: "bold", Size: "md", Color: statusColor, Wrap: true},
			Separator{Margin: "md"},
			Text{Text: c.travelLabel(), Weight: "bold", Size: "sm", Margin: "md", Wrap: true},
			Text{Text: orUnknown(result.Travel.Explanation), Size: "sm", Color: levelColor(result.Travel.Level), Wrap: true},
			Text{Text: c.checkupLabel(), Weight: "bold", Size: "sm", Margin: "md", Wrap: true},
			Text{Text: orUnknown(result.Checkup.Explanation), Size: "sm", Color: levelColor(result.Checkup.Level), Wrap: true},
			Separator{Margin: "md"},
			warningsBox(result.Warnings),
		},
	}

	var footerContents []Component
	if len(detail) > 0 {
		lines := []Component{Text{Text: "📊 Typhoon details", Weight: "bold", Size: "sm"}}
		for _, line := range detail {
			lines = append(lines, Text{Text: line, Size: "xs", Color: ColorMuted, Wrap: true})
		}
		footerContents = append(footerContents, Box{Layout: Vertical, Spacing: "xs", Contents: lines}, Separator{Margin: "md"})
	}
	var buttons []Component
	if c.DashboardURL != "" {
		buttons = append(buttons, Button{Action: URIAction("Dashboard", c.DashboardURL), Style: "secondary", Height: "sm"})
	}
	if c.StatusKeyword != "" {
		buttons = append(buttons, Button{Action: MessageAction("Refresh", c.StatusKeyword), Style: "primary", Height: "sm", Color: statusColor})
	}
	if len(buttons) > 0 {
		footerContents = append(footerContents, Box{Layout: Horizontal, Spacing: "sm", Margin: "md", Contents: buttons})
	}

	card := Card{
		AltText: altText(result),
		Header:  header,
		Body:    body,
	}
	if len(footerContents) > 0 {
		card.Footer = &Box{Layout: Vertical, Contents: footerContents}
	}
	return card
}

func warningsBox(warnings []string) Box {
	if len(warnings) == 0 {
		return Box{Layout: Vertical, Contents: []Component{
			Text{Text: "✅ No active warnings", Size: "sm", Color: ColorSafe},
		}}
	}
	contents := []Component{Text{Text: "🌪️ Weather warnings", Weight: "bold", Size: "sm"}}
	shown := warnings
	if len(shown) > maxCardWarnings {
		shown = shown[:maxCardWarnings]
	}
	for _, w := range shown {
		contents = append(contents, Text{Text: w, Size: "xs", Wrap: true})
	}
	if extra := len(warnings) - len(shown); extra > 0 {
		contents = append(contents, Text{Text: fmt.Sprintf("…and %d more", extra), Size: "xs", Color: ColorMuted})
	}
	return Box{Layout: Vertical, Spacing: "xs", Contents: contents}
}

func altText(result models.StatusResult) string {
	return fmt.Sprintf("%s | flight %s | checkup %s", statusLine(result.Overall), result.Travel.Level, result.Checkup.Level)
}

func levelColor(l models.RiskLevel) string {
	switch l {
	case models.RiskHigh:
		return ColorDanger
	case models.RiskMedium:
		return ColorMedium
	case models.RiskLow:
		return ColorSafe
	default:
		return ColorUnknown
	}
}

// cycloneDetail describes the first active cyclone of the snapshot.
func cycloneDetail(snap models.MonitoringSnapshot) []string {
	for _, track := range snap.Cyclones {
		fix, ok := track.Latest()
		if !ok {
			continue
		}
		lines := []string{"🌀 Name: " + cyclone.ResolveName(track.Identity)}
		if track.TyphoonNumber != "" {
			lines = append(lines, "🏷️ Typhoon no.: "+track.TyphoonNumber)
		}
		lines = append(lines, fmt.Sprintf("💨 Max wind: %s m/s (%.1f km/h)", trimFloat(fix.MaxWindMS), fix.MaxWindKMH()))
		gust := Unknown
		if kmh := fix.MaxGustKMH(); kmh != nil {
			gust = fmt.Sprintf("%s m/s (%.1f km/h)", trimFloat(*fix.MaxGustMS), *kmh)
		}
		lines = append(lines,
			"💨 Max gust: "+gust,
			"📊 Pressure: "+optional(fix.PressureHPa, "hPa"),
			"🏃 Moving: "+movement(fix),
			fmt.Sprintf("📍 Position: %.1f°N, %.1f°E", fix.Lat, fix.Lon),
			"🕐 Observed: "+formatTime(fix.ObservedAt),
			"🌪️ Storm radius: "+optional(fix.StormRadiusKM, "km"),
		)
		return lines
	}
	return nil
}

func movement(fix models.CycloneFix) string {
	speed := optional(fix.SpeedKMH, "km/h")
	if fix.Heading == nil {
		return speed + ", heading " + Unknown
	}
	return fmt.Sprintf("%s toward %s", speed, cyclone.CompassPoint(*fix.Heading))
}

func shortDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d/%d", t.Month(), t.Day())
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}

// ComposeTest returns the connectivity test notification.
func (c *Composer) ComposeTest(at time.Time) (Card, string) {
	stamp := at.In(DisplayZone).Format("2006-01-02 15:04:05")
	lines := []string{
		"🧪 Typhoon alert bot test",
		"✅ Messaging connection OK",
		"📡 Monitoring running",
		"🔔 Notifications enabled",
		"Time: " + stamp,
	}
	contents := make([]Component, 0, len(lines))
	for i, l := range lines {
		t := Text{Text: l, Size: "sm", Wrap: true}
		if i == 0 {
			t.Weight = "bold"
			t.Size = "md"
		}
		contents = append(contents, t)
	}
	card := Card{
		AltText: "🧪 Typhoon alert bot test",
		Body:    &Box{Layout: Vertical, Spacing: "sm", Contents: contents},
	}
	return card, lines[0] + "\n\n" + strings.Join(lines[1:], "\n")
}

// Unavailable is the reply sent before the first cycle has completed.
func Unavailable() string {
	return "Weather data is still being collected, please try again shortly."
}
