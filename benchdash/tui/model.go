// Package tui is the benchdash terminal front end: it drives a sim.Rig
// from a Bubble Tea tick and maps keys to pedals, gestures and buttons.
package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/harveysanders/miatadash/benchdash/sim"
	"github.com/harveysanders/miatadash/telemetry/settings"
	"github.com/harveysanders/miatadash/telemetry/swc"
	"github.com/harveysanders/miatadash/telemetry/touch"
)

// FrameInterval is the UI refresh period.
const FrameInterval = time.Second / 30

// TickMsg advances the simulation.
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(FrameInterval, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// shared is the state every model copy points at. Bubble Tea passes the
// model by value.
type shared struct {
	rig     *sim.Rig
	console []string
}

// Model is the root Bubble Tea model.
type Model struct {
	width, height int
	// Speed multiplies simulated time per real frame.
	speed  uint32
	paused bool
	typing bool
	line   string
	shared *shared
}

// New returns a model over rig running at speed x real time.
func New(rig *sim.Rig, speed uint32) Model {
	if speed == 0 {
		speed = 1
	}
	return Model{speed: speed, shared: &shared{rig: rig}}
}

func (m Model) Init() tea.Cmd { return tickCmd() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.typing {
			return m.handleLine(msg)
		}
		return m.handleKey(msg)

	case TickMsg:
		if !m.paused {
			r := m.shared.rig
			r.Run(r.Now() + uint32(FrameInterval/time.Millisecond)*m.speed)
			m.collectConsole()
		}
		return m, tickCmd()
	}
	return m, nil
}

const consoleLines = 6

func (m Model) collectConsole() {
	out := &m.shared.rig.Console.Out
	if out.Len() == 0 {
		return
	}
	for _, l := range strings.Split(strings.TrimRight(out.String(), "\n"), "\n") {
		m.shared.console = append(m.shared.console, l)
	}
	out.Reset()
	if n := len(m.shared.console); n > consoleLines {
		m.shared.console = m.shared.console[n-consoleLines:]
	}
}

func (m Model) handleLine(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.shared.rig.Type(m.line)
		m.line, m.typing = "", false
	case tea.KeyEsc:
		m.line, m.typing = "", false
	case tea.KeyBackspace:
		if len(m.line) > 0 {
			m.line = m.line[:len(m.line)-1]
		}
	case tea.KeyRunes, tea.KeySpace:
		m.line += string(msg.Runes)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	r := m.shared.rig
	car := r.Car
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case " ":
		m.paused = !m.paused
	case ":":
		m.typing = true

	// Car.
	case "up":
		car.Throttle = min(car.Throttle+10, 100)
	case "down":
		car.Throttle = max(car.Throttle-10, 0)
	case "a":
		car.ShiftUp()
	case "z":
		car.ShiftDown()
	case "e":
		car.Running = !car.Running
		if car.Running {
			car.RPM = 850
		}
	case "x":
		car.Silent = !car.Silent
	case "D":
		r.App.Settings.Mutate(r.Now(), func(s *settings.Settings) { s.DemoMode = !s.DemoMode })

	// Touch.
	case "left":
		r.Touch.Push(touch.SwipeLeft)
	case "right":
		r.Touch.Push(touch.SwipeRight)
	case "w":
		r.Touch.Push(touch.SwipeUp)
	case "s":
		r.Touch.Push(touch.SwipeDown)
	case "enter":
		r.Touch.Push(touch.SingleClick)
	case "l":
		r.Touch.Push(touch.LongPress)

	// Steering wheel.
	case "+":
		r.Press(swc.VolUp)
	case "-":
		r.Press(swc.VolDown)
	case "o":
		r.Press(swc.Mode)
	case "O":
		r.Hold(swc.Mode, swc.RepeatDelayMs+100)
	case "n":
		r.Press(swc.SeekUp)
	case "p":
		r.Press(swc.SeekDown)
	case "m":
		r.Press(swc.Mute)
	case "c":
		r.Press(swc.Cancel)
	}
	return m, nil
}
