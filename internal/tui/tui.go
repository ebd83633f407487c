// Package tui is the terminal client of the farm game.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tatianab/terranaut/internal/advisor"
	"github.com/tatianab/terranaut/internal/engine"
	"github.com/tatianab/terranaut/internal/envdata"
	"github.com/tatianab/terranaut/internal/models"
	"github.com/tatianab/terranaut/internal/pipeline"
	"github.com/tatianab/terranaut/internal/randsrc"
	"github.com/tatianab/terranaut/internal/scoring"
	"github.com/tatianab/terranaut/internal/store"
	"github.com/tatianab/terranaut/internal/weather"
)

// saveName is the save slot written after every day.
const saveName = "current"

// fallbackAfter is how long monitoring mode waits before offering synthetic data.
const fallbackAfter = 30 * time.Second

// Store persists sessions and is polled for uploaded satellite rows.
type Store interface {
	envdata.RowCounter
	CreateSession(ctx context.Context, row store.SessionRow) error
	UpdateProgress(ctx context.Context, id string, state models.FarmSession, completed bool) error
}

// Deps are the collaborators of the client. Everything but Advisor is optional.
type Deps struct {
	Advisor  *advisor.Advisor
	Observer engine.Observer
	Weather  pipeline.WeatherResolver
	Store    Store
	UserID   string
	Rand     randsrc.Source
	Now      func() time.Time
}

type sessionState int

const (
	stateSetup sessionState = iota
	stateLoading
	stateWaiting
	statePlaying
	stateResults
	stateError
)

type model struct {
	state     sessionState
	deps      Deps
	setup     models.Setup
	step      int
	hint      string
	session   *engine.Session
	report    scoring.Report
	textInput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	err       error
	width     int
	height    int

	busy        bool
	partial     string
	streaming   bool
	cancelPoll  context.CancelFunc
	canFallback bool
}

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			Background(lipgloss.Color("#5F5F87")).
			Bold(true).
			PaddingLeft(1)

	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	stateStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2).
			Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)

	typeStyles = map[models.MessageType]lipgloss.Style{
		models.MessageSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F")),
		models.MessageWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD75F")),
		models.MessageError:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")),
		models.MessageInfo:    agentStyle,
	}
)

func NewModel(d Deps) model {
	if d.Advisor == nil {
		d.Advisor = advisor.Offline()
	}
	if d.Rand == nil {
		d.Rand = randsrc.New(0)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.UserID == "" {
		d.UserID = "local"
	}
	ti := textinput.New()
	ti.Focus()
	ti.CharLimit = 156
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := model{state: stateSetup, deps: d, textInput: ti, spinner: sp, viewport: viewport.New(80, 20)}
	m.textInput.Placeholder = setupSteps[0].placeholder()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

type sessionReadyMsg struct {
	session *engine.Session
	note    string
}

type pollDoneMsg struct {
	rows int
	err  error
}

type fallbackMsg struct{}

type actionDoneMsg struct {
	res engine.Result
	err error
}

type chatChunkMsg struct {
	stream advisor.Stream
	text   string
	err    error
	done   bool
}

type errMsg struct {
	err error
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.stopPoll()
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit(strings.TrimSpace(m.textInput.Value()))
		}
		if m.state == stateWaiting && m.canFallback && msg.String() == "s" {
			m.stopPoll()
			m.session.Say("Continuing with synthetic satellite data.", models.MessageWarning)
			return m.play(), nil
		}
		if m.state == stateResults && msg.String() == "q" {
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = int(float64(msg.Width) * 0.7)
		m.viewport.Height = msg.Height - 7
		if m.session != nil {
			m.refresh()
		}

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case sessionReadyMsg:
		m.session = msg.session
		if msg.note != "" {
			m.session.Say(msg.note, models.MessageWarning)
		}
		if m.setup.Mode == models.ModeMonitoring && m.deps.Store != nil {
			m.state = stateWaiting
			ctx, cancel := context.WithCancel(context.Background())
			m.cancelPoll = cancel
			return m, tea.Batch(m.poll(ctx), tea.Tick(fallbackAfter, func(time.Time) tea.Msg { return fallbackMsg{} }))
		}
		return m.play(), nil

	case pollDoneMsg:
		if m.state != stateWaiting {
			return m, nil
		}
		m.stopPoll()
		if msg.err != nil {
			m.canFallback = true
			return m, nil
		}
		m.session.Say(fmt.Sprintf("🛰️ %d days of real satellite data received.", msg.rows), models.MessageSuccess)
		return m.play(), nil

	case fallbackMsg:
		if m.state == stateWaiting {
			m.canFallback = true
		}
		return m, nil

	case actionDoneMsg:
		if m.session == nil {
			return m, nil
		}
		m.busy = false
		m.refresh()
		if m.session.Done() {
			out, _ := m.session.Outcome()
			m.report = scoring.Evaluate(out, m.setup.Crop)
			m.state = stateResults
		}
		return m, nil

	case chatChunkMsg:
		if m.session == nil {
			return m, nil
		}
		switch {
		case msg.err != nil:
			m.busy, m.streaming, m.partial = false, false, ""
			text := advisor.UserMessage(msg.err)
			if text == "" {
				text = "Terra AI is unavailable right now: " + msg.err.Error()
			}
			m.session.Say(text, models.MessageError)
		case msg.done:
			if m.partial != "" {
				m.session.Say(m.partial, models.MessageInfo)
			}
			m.busy, m.streaming, m.partial = false, false, ""
		default:
			m.partial += msg.text
			m.refresh()
			return m, nextChunk(msg.stream)
		}
		m.refresh()
		return m, nil

	case errMsg:
		m.err = msg.err
		m.state = stateError
		return m, nil
	}

	switch m.state {
	case stateSetup:
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	case statePlaying:
		var vcmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		m.viewport, vcmd = m.viewport.Update(msg)
		return m, tea.Batch(cmd, vcmd)
	}
	return m, nil
}

// submit handles Enter for the current screen.
func (m model) submit(v string) (tea.Model, tea.Cmd) {
	switch m.state {
	case stateSetup:
		if m.step == 0 && v == "/load" {
			save, err := models.LoadSave(saveName)
			if err != nil {
				m.hint = "No saved farm to resume: " + err.Error()
				return m, nil
			}
			m.setup = save.Setup
			m.session = engine.Restore(*save, m.sessionOptions()...)
			m.textInput.Reset()
			return m.play(), nil
		}
		if err := setupSteps[m.step].apply(&m.setup, v, m.deps.Now()); err != nil {
			m.hint = err.Error()
			return m, nil
		}
		m.hint = ""
		m.textInput.Reset()
		m.step++
		if m.step < len(setupSteps) {
			m.textInput.Placeholder = setupSteps[m.step].placeholder()
			return m, nil
		}
		m.state = stateLoading
		return m, m.startSession()

	case statePlaying:
		if v == "" {
			return m, nil
		}
		switch v {
		case "/quit":
			return m, tea.Quit
		case "/restart":
			return m.restart(), nil
		}
		// Ignore input while an action or reply is in flight.
		if m.busy {
			return m, nil
		}
		m.textInput.Reset()
		if a, err := engine.ParseAction(v); err == nil {
			m.busy = true
			return m, m.apply(a)
		}
		m.busy, m.streaming = true, true
		m.session.Say(advisor.QuestionPrefix+v, models.MessageInfo)
		m.refresh()
		return m, m.chat(v)

	case stateResults:
		return m.restart(), nil
	}
	return m, nil
}

func (m *model) stopPoll() {
	if m.cancelPoll != nil {
		m.cancelPoll()
		m.cancelPoll = nil
	}
}

func (m model) play() model {
	m.state = statePlaying
	m.canFallback = false
	m.textInput.Placeholder = "i/f/m/w to act, or ask Terra AI a question"
	m.refresh()
	return m
}

func (m model) restart() model {
	m.stopPoll()
	m.state = stateSetup
	m.step = 0
	m.setup = models.Setup{}
	m.session = nil
	m.busy, m.streaming, m.partial = false, false, ""
	m.textInput.Reset()
	m.textInput.Placeholder = setupSteps[0].placeholder()
	return m
}

func (m *model) refresh() {
	if m.session == nil || m.viewport.Width == 0 {
		return
	}
	m.viewport.SetContent(m.renderLog())
	m.viewport.GotoBottom()
}

func (m model) sessionOptions() []engine.Option {
	opts := []engine.Option{engine.WithRand(m.deps.Rand), engine.WithClock(m.deps.Now)}
	if m.deps.Observer != nil {
		opts = append(opts, engine.WithObserver(m.deps.Observer))
	}
	return opts
}

func (m model) startSession() tea.Cmd {
	setup := m.setup
	d := m.deps
	opts := m.sessionOptions()
	return func() tea.Msg {
		ctx := context.Background()
		sess := engine.NewSession(setup, opts...)
		var note string
		if d.Weather != nil && setup.Mode == models.ModeSimulation {
			days, err := d.Weather.Resolve(ctx, weather.Request{
				Lat:       setup.Location.Lat,
				Lon:       setup.Location.Lon,
				StartDate: setup.StartDate,
				EndDate:   setup.HarvestDate,
				Mode:      weather.ModeHistory,
			})
			if err != nil || len(days) < 2 {
				note = "Weather history unavailable, using simulated weather."
			} else {
				sess.LoadWeather(days)
			}
		}
		if d.Store != nil {
			row := store.NewSessionRow(sess.ID, d.UserID, "", setup, sess.State())
			if err := d.Store.CreateSession(ctx, row); err != nil {
				return errMsg{fmt.Errorf("create session: %w", err)}
			}
		}
		return sessionReadyMsg{session: sess, note: note}
	}
}

func (m model) poll(ctx context.Context) tea.Cmd {
	st, id := m.deps.Store, m.session.ID
	return func() tea.Msg {
		n, err := envdata.PollRecorded(ctx, st, id, envdata.DefaultBackoff)
		return pollDoneMsg{rows: n, err: err}
	}
}

func (m model) apply(a engine.Action) tea.Cmd {
	sess, st := m.session, m.deps.Store
	return func() tea.Msg {
		ctx := context.Background()
		res, err := sess.Apply(ctx, a)
		if err == nil {
			if st != nil {
				_ = st.UpdateProgress(ctx, sess.ID, sess.State(), sess.Done())
			}
			save := sess.Snapshot()
			_ = save.Save(saveName)
		}
		return actionDoneMsg{res: res, err: err}
	}
}

func (m model) chat(question string) tea.Cmd {
	adv, sess, setup := m.deps.Advisor, m.session, m.setup
	return func() tea.Msg {
		stream, err := adv.Chat(context.Background(), advisor.ChatRequest{
			Message:  question,
			Location: setup.Location.Name,
			Farm:     &setup,
			State:    sess.State(),
			History:  sess.Messages(engine.MessageTail),
		})
		if err != nil {
			return chatChunkMsg{err: err}
		}
		return readChunk(stream)
	}
}

func nextChunk(s advisor.Stream) tea.Cmd {
	return func() tea.Msg { return readChunk(s) }
}

func readChunk(s advisor.Stream) chatChunkMsg {
	text, err := s.Next()
	if errors.Is(err, io.EOF) {
		return chatChunkMsg{done: true}
	}
	return chatChunkMsg{stream: s, text: text, err: err}
}

func (m model) View() string {
	var s string

	switch m.state {
	case stateSetup:
		s = fmt.Sprintf("🌱 Welcome to Terranaut!\n\n%s\n\n%s", setupSteps[m.step].prompt, m.textInput.View())
		if m.step == 0 && hasSave() {
			s += "\n\n" + helpStyle.Render("Type /load to resume your last farm.")
		}
		if m.hint != "" {
			s += "\n\n" + typeStyles[models.MessageError].Render(m.hint)
		}

	case stateLoading:
		s = fmt.Sprintf("\n  %s Preparing %s... fetching weather history.\n", m.spinner.View(), m.setup.FarmName)

	case stateWaiting:
		s = fmt.Sprintf("\n  %s Waiting for real satellite data for session %s.\n  Upload it through the upload-satellite-data endpoint.\n", m.spinner.View(), m.session.ID)
		if m.canFallback {
			s += "\n  " + helpStyle.Render("No data yet. Press s to continue with synthetic data.")
		}

	case statePlaying:
		mainView := lipgloss.JoinHorizontal(lipgloss.Top, m.viewport.View(), m.renderState())
		help := fmt.Sprintf("[i]rrigate €%.0f  [f]ertilize €%.0f  [m]onitor  [w]ait  |  /restart /quit", engine.IrrigateCost, engine.FertilizeCost)
		if m.busy {
			help = m.spinner.View() + " working..."
		}
		s = lipgloss.JoinVertical(lipgloss.Left, mainView, "\n"+m.textInput.View(), "\n"+helpStyle.Render(help))

	case stateResults:
		s = m.renderResults()

	case stateError:
		s = fmt.Sprintf("\n  Error: %v\n\nPress Esc to quit.", m.err)
	}

	return "\n" + s + "\n"
}

func (m model) renderLog() string {
	width := m.viewport.Width
	var sb strings.Builder
	for _, msg := range m.session.Messages(0) {
		style := typeStyles[msg.Type]
		if strings.HasPrefix(msg.Text, advisor.QuestionPrefix) {
			style = userStyle
		}
		sb.WriteString(style.Width(width).Render(msg.Text))
		sb.WriteString("\n\n")
	}
	if m.streaming {
		sb.WriteString(agentStyle.Width(width).Render("Terra AI: " + m.partial + "▌"))
	}
	return sb.String()
}

func (m model) renderState() string {
	if m.session == nil {
		return ""
	}
	st := m.session.State()
	setup := m.session.Setup

	farm := titleStyle.Render("FARM") + "\n" + fmt.Sprintf("%s\n%s at %s\n\n", setup.FarmName, setup.Crop.Name, setup.Location.Name)
	stats := titleStyle.Render("FIELD") + "\n" + fmt.Sprintf(
		"Day: %d/%d\nBudget: €%.0f\nMoisture: %.1f%%\nNDVI: %.2f\nTemp: %.1f°C\nHealth: %s\nStage: %s (%.0f GDD)\nEnv score: %.0f\n\n",
		st.CurrentDay, setup.Crop.GrowthDays, st.Budget, st.SoilMoisturePct, st.NDVI, st.Temperature,
		st.PlantHealth, st.Stage, st.CumulativeGDD, st.EnvironmentalScore)

	activity := titleStyle.Render("ACTIVITY") + "\n"
	for _, e := range m.session.Activity(engine.ActivityTail) {
		activity += fmt.Sprintf("Day %d: %s\n", e.Day, e.Message)
	}

	width := int(float64(max(m.width, 80)) * 0.28)
	return stateStyle.Width(width).Height(m.viewport.Height).Render(farm + stats + activity)
}

func (m model) renderResults() string {
	r := m.report
	stars := strings.Repeat("⭐", r.Rating.Stars) + strings.Repeat("☆", 5-r.Rating.Stars)
	body := fmt.Sprintf(
		"Harvest on day %d\n\nQuality: %d/100 (%s, x%.1f)\nPlant health: %s\nEnvironmental score: %.0f\n\nRemaining budget: €%.0f\nHarvest sale: €%.0f\nNet profit: €%.0f\n\n%s  %s",
		r.Outcome.FinalDay, r.Outcome.Quality, r.Tier, r.Multiplier, r.Outcome.PlantHealth, r.Outcome.FinalEnvironmentalScore,
		r.Outcome.FinalBudget, r.FinalSalePrice, r.NetProfit, stars, r.Rating.Title)
	return titleStyle.Render("🌾 HARVEST RESULTS") + "\n\n" + body + "\n\n" + helpStyle.Render("Enter to play again, q to quit.")
}

func Run(d Deps) error {
	m := NewModel(d)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
