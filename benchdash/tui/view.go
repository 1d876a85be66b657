package tui

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/harveysanders/miatadash/telemetry/dash"
	"github.com/harveysanders/miatadash/telemetry/leds"
)

var (
	colorAccent = lipgloss.Color("#FF6A00")
	colorDim    = lipgloss.Color("#5A5A5A")
	colorOK     = lipgloss.Color("#00CC33")
	colorWarn   = lipgloss.Color("#FF3300")

	styleTitle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	stylePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)

	styleKey   = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleLabel = lipgloss.NewStyle().Foreground(colorDim)
	styleOK    = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
)

// Thumbnail size in terminal cells; each cell shows two pixel rows.
const (
	thumbCols = 44
	thumbRows = 22
)

func hex(c color.RGBA) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B))
}

// RenderBar draws the 20-pixel shift light.
func RenderBar(f leds.Frame) string {
	var b strings.Builder
	for _, c := range f {
		if c.R|c.G|c.B == 0 {
			b.WriteString(lipgloss.NewStyle().Foreground(colorDim).Render("○"))
			continue
		}
		b.WriteString(lipgloss.NewStyle().Foreground(hex(c)).Render("●"))
	}
	return b.String()
}

// RenderThumb draws the panel framebuffer with half blocks.
func RenderThumb(px [][]color.RGBA) string {
	var b strings.Builder
	for y := 0; y+1 < len(px); y += 2 {
		for x := range px[y] {
			st := lipgloss.NewStyle().Foreground(hex(px[y][x])).Background(hex(px[y+1][x]))
			b.WriteString(st.Render("▀"))
		}
		if y+2 < len(px) {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (m Model) View() string {
	r := m.shared.rig
	a := r.App
	s, _ := a.Cache.Load()

	bus := styleOK.Render("CAN up")
	switch {
	case a.Ingest.Degraded():
		bus = styleWarn.Render("CAN degraded")
	case !s.Connected:
		bus = styleWarn.Render("CAN silent")
	}
	screen := a.Dash.Screen().String()
	if a.Dash.Sleeping() {
		screen += " (asleep)"
	}
	if sel, editing := a.Dash.Menu(); a.Dash.Screen() == dash.Settings {
		screen += fmt.Sprintf(" [%v", sel)
		if editing {
			screen += " *"
		}
		screen += "]"
	}
	set := a.Settings.Get()

	car := r.Car
	info := strings.Join([]string{
		styleTitle.Render("miatadash bench") + "  " + bus,
		"",
		RenderBar(r.Strip.Last),
		"",
		fmt.Sprintf("%s %5d rpm  %3d km/h  gear %d  tps %3.0f%%",
			styleLabel.Render("car"), uint16(car.RPM), uint16(car.Speed()), car.Gear, car.Throttle),
		fmt.Sprintf("%s %s", styleLabel.Render("screen"), screen),
		fmt.Sprintf("%s brightness %d%%  shift %d  redline %d  demo %v",
			styleLabel.Render("settings"), set.Brightness, set.ShiftRPM, set.RedlineRPM, set.DemoMode),
		fmt.Sprintf("%s %v %s  files %d",
			styleLabel.Render("log"), a.SD.State(), a.SD.Current(), len(r.Card.Files)),
		fmt.Sprintf("%s t=%dms steps %d  led %d  dash %d  flush-skips %d",
			styleLabel.Render("loop"), r.Now(), a.Stats().Steps, a.Stats().LEDTicks, a.Stats().DashTicks, a.Stats().FlushSkips),
	}, "\n")

	var console strings.Builder
	for _, l := range m.shared.console {
		console.WriteString(l)
		console.WriteByte('\n')
	}
	if m.typing {
		console.WriteString("> " + m.line + "█")
	} else {
		console.WriteString(styleLabel.Render(": to type a shell command"))
	}

	left := stylePanel.Render(RenderThumb(r.Panel.Thumb(thumbCols, thumbRows*2)))
	right := lipgloss.JoinVertical(lipgloss.Left,
		stylePanel.Render(info),
		stylePanel.Render(console.String()),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	return lipgloss.JoinVertical(lipgloss.Left, body, help())
}

func help() string {
	keys := []struct{ k, v string }{
		{"↑/↓", "throttle"}, {"a/z", "shift"}, {"e", "engine"}, {"x", "unplug"}, {"D", "demo"},
		{"←/→", "swipe"}, {"w/s", "swipe up/down"}, {"enter", "tap"}, {"l", "long press"},
		{"+/-", "vol"}, {"o/O", "mode/hold"}, {"n/p", "seek"}, {"m", "mute"}, {"c", "cancel"},
		{"space", "pause"}, {"q", "quit"},
	}
	parts := make([]string, len(keys))
	for i, kv := range keys {
		parts[i] = styleKey.Render(kv.k) + " " + styleLabel.Render(kv.v)
	}
	return strings.Join(parts, "  ")
}
