package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"adflow/internal/backend"
	"adflow/internal/briefing"
	"adflow/internal/conversation"
	"adflow/internal/logging"
	"adflow/internal/metrics"
	"adflow/internal/preview"
	"adflow/internal/run"
)

type tabID int

const (
	tabChat tabID = iota
	tabWizard
	tabPreview
	tabSettings
	tabHelp
	tabCount
)

const (
	errorNoticePrefix = "Sorry, there was an error processing your request: "
	chatPlaceholder   = "Describe the ads you need, or use /brief, /upload, /help."
)

type runtimeSettings struct {
	preflight        bool
	preview          bool
	autoDelivery     bool
	retryAttempts    int
	retryTimeout     time.Duration
	deliveryAttempts int
	deliveryInterval time.Duration
}

type healthDoneMsg struct {
	err error
}

type runUpdateMsg struct {
	gen    int
	update run.Update
}

type runClosedMsg struct {
	gen int
}

type deliveryDoneMsg struct {
	gen  int
	meta backend.DeliveryMeta
	err  error
}

type previewDoneMsg struct {
	gen        int
	variations []preview.Variation
	err        error
}

type uploadDoneMsg struct {
	kind string
	ref  backend.ReferenceImage
	size string
	err  error
}

type briefLoadedMsg struct {
	path string
	form briefing.Form
	err  error
}

type actionDoneMsg struct {
	status string
	err    error
}

type model struct {
	cfg      appConfig
	settings runtimeSettings
	ctx      context.Context
	client   *backend.Client
	runner   *run.Runner
	log      *slog.Logger
	metrics  *metrics.Metrics

	conv    *conversation.Conversation
	stream  *conversation.Stream
	session *backend.Session
	refs    backend.References
	// pending holds the submitted text until the session exists.
	pending    string
	runGen     int
	cancelRun  context.CancelFunc
	runInbound <-chan tea.Msg
	lastRun    run.Finished

	delivery     *backend.DeliveryMeta
	polling      bool
	variations   []preview.Variation
	previewIndex int

	form       briefing.Form
	formErrs   briefing.Errors
	wizardStep int

	ready          bool
	unavailable    error
	statusLine     string
	logs           []string
	activeTab      tabID
	settingsIndex  int
	launcherActive bool
	launcherIndex  int
	launcherItems  []string
	launcherPulse  int
	inflight       bool
	quitConfirm    bool
	width          int
	height         int
	input          textinput.Model
	timeline       viewport.Model
	sidebar        viewport.Model
	spinner        spinner.Model
	theme          uiTheme
}

func newModel(ctx context.Context, cfg appConfig, client *backend.Client, log *slog.Logger, meter *metrics.Metrics) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = chatPlaceholder
	if cfg.launcher {
		input.Blur()
	} else {
		input.Focus()
	}

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 4
	sidebar := viewport.New(0, 0)
	sidebar.MouseWheelEnabled = true
	sidebar.MouseWheelDelta = 4

	if log == nil {
		log = logging.Discard()
	}
	if meter == nil {
		meter = metrics.New()
	}

	m := model{
		cfg: cfg,
		settings: runtimeSettings{
			preflight:        cfg.preflight,
			preview:          cfg.preview,
			autoDelivery:     cfg.autoDelivery,
			retryAttempts:    cfg.retryAttempts,
			retryTimeout:     cfg.retryTimeout,
			deliveryAttempts: cfg.deliveryAttempts,
			deliveryInterval: cfg.deliveryInterval,
		},
		ctx:            ctx,
		client:         client,
		log:            logging.WithComponent(log, "tui"),
		metrics:        meter,
		conv:           conversation.New(),
		refs:           backend.References{},
		formErrs:       briefing.Errors{},
		statusLine:     "checking backend...",
		logs:           []string{},
		activeTab:      tabChat,
		launcherActive: cfg.launcher,
		launcherItems: []string{
			"Start Briefing Chat",
			"Briefing Wizard",
			"Ad Preview",
			"Settings",
			"Help",
			"Quit",
		},
		input:    input,
		timeline: timeline,
		sidebar:  sidebar,
		spinner:  sp,
		theme:    newTheme(),
	}
	m.runner = run.NewRunner(client, m.runConfig(), log, meter)
	m.loadWizardInput()
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.healthCmd()}
	if strings.TrimSpace(m.cfg.briefFile) != "" {
		cmds = append(cmds, briefCmd(m.cfg.briefFile))
	}
	return tea.Batch(cmds...)
}

func (m model) runConfig() run.Config {
	cfg := run.DefaultConfig()
	cfg.Preflight = m.settings.preflight
	cfg.Retry.MaxAttempts = m.settings.retryAttempts
	cfg.Retry.MaxDuration = m.settings.retryTimeout
	cfg.DeliveryAttempts = m.settings.deliveryAttempts
	cfg.DeliveryInterval = m.settings.deliveryInterval
	return cfg
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case healthDoneMsg:
		if msg.err != nil {
			m.ready = false
			m.unavailable = msg.err
			m.statusLine = "backend unavailable"
			m.logError(msg.err)
			return m, nil
		}
		m.ready = true
		m.unavailable = nil
		m.statusLine = "ready · " + m.client.BaseURL()
		m.appendLog("backend ready at " + m.client.BaseURL())
		m.renderPanes()
	case runUpdateMsg:
		if msg.gen != m.runGen {
			break
		}
		if cmd := m.applyRunUpdate(msg.update); cmd != nil {
			cmds = append(cmds, cmd)
		}
		m.renderPanes()
		cmds = append(cmds, waitRunMsg(m.runInbound, m.runGen))
	case runClosedMsg:
		if msg.gen == m.runGen && m.inflight {
			m.inflight = false
			m.renderPanes()
		}
	case deliveryDoneMsg:
		if msg.gen != m.runGen {
			break
		}
		m.polling = false
		m.inflight = false
		if msg.err != nil {
			if errors.Is(msg.err, context.Canceled) {
				break
			}
			m.appendLog("delivery: " + msg.err.Error())
			m.statusLine = "delivery not ready · /delivery to check again"
			m.renderPanes()
			break
		}
		meta := msg.meta
		m.delivery = &meta
		m.statusLine = "delivery ready · " + describeDelivery(meta)
		m.appendLog(m.statusLine)
		if m.settings.preview {
			m.inflight = true
			cmds = append(cmds, m.previewCmd())
		}
		m.renderPanes()
	case previewDoneMsg:
		if msg.gen != m.runGen {
			break
		}
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			m.statusLine = "preview failed"
			break
		}
		m.variations = msg.variations
		m.previewIndex = 0
		if len(msg.variations) == 0 {
			m.statusLine = "preview: no variations in the delivered payload"
			break
		}
		m.statusLine = fmt.Sprintf("preview ready · %d variations", len(msg.variations))
		m.appendLog(m.statusLine)
	case uploadDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			m.statusLine = "upload failed: " + compactSingleLine(uploadErrorText(msg.err), 120)
			break
		}
		m.refs[msg.kind] = msg.ref
		m.statusLine = fmt.Sprintf("uploaded %s reference (%s)", msg.kind, msg.size)
		m.appendLog(m.statusLine + " id=" + msg.ref.ID)
		m.renderPanes()
	case briefLoadedMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			m.statusLine = "brief load failed"
			break
		}
		m.form = msg.form
		m.formErrs = briefing.ValidateForm(msg.form)
		m.wizardStep = briefing.StepIndex(briefing.StepReview)
		m.switchTab(tabWizard)
		if len(m.formErrs) > 0 {
			m.statusLine = fmt.Sprintf("brief %s loaded with %d issues", msg.path, len(m.formErrs))
		} else {
			m.statusLine = "brief loaded · press Enter on review to generate"
		}
		m.appendLog("brief loaded from " + msg.path)
	case actionDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			m.statusLine = "action failed"
		} else if strings.TrimSpace(msg.status) != "" {
			m.statusLine = msg.status
			m.appendLog(msg.status)
		}
		m.renderPanes()
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderPanes()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.launcherActive {
			m.launcherPulse = (m.launcherPulse + 1) % 24
		}
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		if m.launcherActive || m.unavailable != nil || m.quitConfirm {
			break
		}
		if m.activeTab == tabChat {
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			cmds = append(cmds, cmd)
		}
	case tea.KeyMsg:
		return m.handleKey(msg, cmds)
	}
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}
	if m.unavailable != nil {
		switch key {
		case "q", "esc":
			return m, tea.Quit
		case "r":
			m.unavailable = nil
			m.statusLine = "checking backend..."
			return m, m.healthCmd()
		}
		return m, nil
	}
	if m.quitConfirm {
		switch key {
		case "y", "Y", "enter":
			return m, tea.Quit
		case "n", "N", "esc":
			m.quitConfirm = false
			m.statusLine = "quit canceled"
			m.renderPanes()
		}
		return m, tea.Batch(cmds...)
	}
	if m.launcherActive {
		switch key {
		case "up", "k":
			m.launcherIndex = (m.launcherIndex + len(m.launcherItems) - 1) % len(m.launcherItems)
		case "down", "j":
			m.launcherIndex = (m.launcherIndex + 1) % len(m.launcherItems)
		case "esc":
			m.launcherActive = false
			m.switchTab(tabChat)
			m.statusLine = "launcher skipped · chat ready"
		case "q":
			m.beginQuitConfirm()
		case "enter":
			if m.launcherIndex == len(m.launcherItems)-1 {
				m.beginQuitConfirm()
				break
			}
			m.launcherActive = false
			m.switchTab(launcherTabs[m.launcherIndex])
			m.statusLine = strings.ToLower(m.launcherItems[m.launcherIndex])
		}
		return m, tea.Batch(cmds...)
	}

	switch key {
	case "esc":
		if m.activeTab == tabChat {
			m.beginQuitConfirm()
			return m, tea.Batch(cmds...)
		}
		m.launcherActive = true
		m.launcherIndex = launcherIndexForTab(m.activeTab)
		m.input.Blur()
		m.statusLine = "launcher menu"
		return m, tea.Batch(cmds...)
	case "tab":
		m.switchTab((m.activeTab + 1) % tabCount)
		return m, tea.Batch(cmds...)
	case "shift+tab":
		m.switchTab((m.activeTab + tabCount - 1) % tabCount)
		return m, tea.Batch(cmds...)
	case "ctrl+x":
		if m.inflight || m.polling {
			m.resetConversation("generation canceled")
		}
		return m, tea.Batch(cmds...)
	}

	switch m.activeTab {
	case tabChat:
		switch key {
		case "enter":
			raw := strings.TrimSpace(m.input.Value())
			if raw == "" {
				return m, tea.Batch(cmds...)
			}
			if strings.HasPrefix(raw, "/") {
				if m.inflight && !isControlCommand(raw) {
					m.statusLine = "run in progress · /cancel or Ctrl+X to stop"
					return m, tea.Batch(cmds...)
				}
				m.input.SetValue("")
				if cmd := m.handleSlash(raw); cmd != nil {
					m.inflight = true
					cmds = append(cmds, cmd)
				}
				return m, tea.Batch(cmds...)
			}
			if m.inflight {
				m.statusLine = "run in progress · /cancel or Ctrl+X to stop"
				return m, tea.Batch(cmds...)
			}
			if !m.ready {
				m.statusLine = "backend not ready yet"
				return m, tea.Batch(cmds...)
			}
			m.input.SetValue("")
			cmds = append(cmds, m.submit(raw))
			return m, tea.Batch(cmds...)
		case "pgup", "ctrl+b":
			m.timeline.LineUp(8)
			return m, tea.Batch(cmds...)
		case "pgdown", "ctrl+f":
			m.timeline.LineDown(8)
			return m, tea.Batch(cmds...)
		case "up":
			if strings.TrimSpace(m.input.Value()) == "" {
				m.timeline.LineUp(4)
				return m, tea.Batch(cmds...)
			}
		case "down":
			if strings.TrimSpace(m.input.Value()) == "" {
				m.timeline.LineDown(4)
				return m, tea.Batch(cmds...)
			}
		case "home":
			m.timeline.GotoTop()
			return m, tea.Batch(cmds...)
		case "end":
			m.timeline.GotoBottom()
			return m, tea.Batch(cmds...)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	case tabWizard:
		if cmd, handled := m.handleWizardKey(key); handled {
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			return m, tea.Batch(cmds...)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	case tabPreview:
		switch key {
		case "left", "h", "-":
			if len(m.variations) > 0 {
				m.previewIndex = (m.previewIndex + len(m.variations) - 1) % len(m.variations)
			}
		case "right", "l", "+":
			if len(m.variations) > 0 {
				m.previewIndex = (m.previewIndex + 1) % len(m.variations)
			}
		case "r":
			if !m.inflight && m.delivery != nil && m.delivery.OK {
				m.inflight = true
				cmds = append(cmds, m.previewCmd())
			}
		}
	case tabSettings:
		switch key {
		case "up", "k":
			m.settingsIndex = maxInt(0, m.settingsIndex-1)
		case "down", "j":
			m.settingsIndex = minInt(settingsRows-1, m.settingsIndex+1)
		case "left", "h", "-":
			m.adjustSetting(-1)
		case "right", "l", "+":
			m.adjustSetting(1)
		}
	}
	return m, tea.Batch(cmds...)
}

var launcherTabs = []tabID{tabChat, tabWizard, tabPreview, tabSettings, tabHelp}

func launcherIndexForTab(tab tabID) int {
	for idx, candidate := range launcherTabs {
		if candidate == tab {
			return idx
		}
	}
	return 0
}

func isControlCommand(raw string) bool {
	fields := strings.Fields(strings.ToLower(raw))
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "/cancel", "/new", "/help", "/quit", "/exit":
		return true
	}
	return false
}

func (m *model) switchTab(tab tabID) {
	prev := m.activeTab
	m.activeTab = tab
	switch tab {
	case tabChat:
		m.input.Placeholder = chatPlaceholder
		if prev == tabWizard {
			m.input.SetValue("")
		}
		m.input.Focus()
	case tabWizard:
		m.loadWizardInput()
		m.input.Focus()
	default:
		m.input.Blur()
	}
	m.renderPanes()
}

func (m *model) beginQuitConfirm() {
	m.quitConfirm = true
	m.statusLine = "ARE YOU SURE YOU WANT TO QUIT?"
}

// submit starts one run generation. Updates come back as runUpdateMsg values
// tagged with the generation, so a canceled run can never touch the new one.
func (m *model) submit(text string) tea.Cmd {
	if m.cancelRun != nil {
		m.cancelRun()
	}
	m.runGen++
	gen := m.runGen
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelRun = cancel
	m.inflight = true
	m.polling = false
	m.delivery = nil
	m.variations = nil
	m.previewIndex = 0

	if m.session != nil {
		m.beginExchange(text)
	} else {
		m.pending = text
	}
	req := run.Request{Text: text, Session: m.session, References: cloneRefs(m.refs)}
	m.statusLine = ternary(m.session == nil, "opening session...", "sending...")
	m.log.Info("submitting message", "chars", len([]rune(text)), "new_session", m.session == nil)

	ch := make(chan tea.Msg, 64)
	m.runInbound = ch
	go streamRun(ctx, m.runner, req, gen, ch)
	m.renderPanes()
	return waitRunMsg(ch, gen)
}

func (m *model) beginExchange(text string) {
	m.conv.AddHuman(text)
	m.stream = m.conv.BeginStream()
}

func (m *model) applyRunUpdate(update run.Update) tea.Cmd {
	switch u := update.(type) {
	case run.SessionReady:
		sess := u.Session
		m.session = &sess
		if m.pending != "" {
			m.beginExchange(m.pending)
			m.pending = ""
		}
		m.statusLine = "session " + sess.SessionID + " · streaming..."
		m.appendLog("session created: " + sess.SessionID)
	case run.Blocked:
		m.pending = ""
		m.conv.AddNotice("preflight", u.Message())
		m.statusLine = "preflight blocked the brief"
		m.appendLog("preflight blocked: " + compactSingleLine(u.Message(), 160))
	case run.EventReceived:
		if m.stream == nil {
			return nil
		}
		before := m.conv.SourceCount()
		m.conv.Apply(m.stream, u.Event)
		if after := m.conv.SourceCount(); after != before {
			m.metrics.Sources.Set(float64(after))
		}
		if m.session != nil {
			m.statusLine = "streaming · " + nullCoalesce(m.stream.CurrentAgent, "waiting for agents")
		}
	case run.Finished:
		m.inflight = false
		m.pending = ""
		m.lastRun = u
		if m.cancelRun != nil {
			m.cancelRun()
			m.cancelRun = nil
		}
		switch {
		case u.Err != nil:
			if errors.Is(u.Err, context.Canceled) {
				m.statusLine = "run canceled"
				return nil
			}
			m.conv.AddNotice("error", errorNoticePrefix+u.Err.Error())
			m.logError(u.Err)
		case u.Blocked:
		default:
			m.statusLine = fmt.Sprintf("run finished · %d frames in %s", u.Frames, u.Elapsed.Round(time.Millisecond))
			m.appendLog(m.statusLine)
			if m.session != nil && m.settings.autoDelivery {
				return m.startDeliveryPoll()
			}
		}
	}
	return nil
}

func (m *model) startDeliveryPoll() tea.Cmd {
	if m.session == nil {
		return nil
	}
	if m.cancelRun != nil {
		m.cancelRun()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelRun = cancel
	m.polling = true
	m.statusLine = "waiting for delivery..."
	return deliveryCmd(ctx, m.runner, *m.session, m.runGen)
}

// resetConversation drops the session and all local state. In-flight work is
// canceled and its late messages are ignored by generation.
func (m *model) resetConversation(status string) {
	if m.cancelRun != nil {
		m.cancelRun()
		m.cancelRun = nil
	}
	m.runGen++
	m.runInbound = nil
	m.conv.Reset()
	m.stream = nil
	m.session = nil
	m.pending = ""
	m.refs = backend.References{}
	m.delivery = nil
	m.polling = false
	m.variations = nil
	m.previewIndex = 0
	m.lastRun = run.Finished{}
	m.inflight = false
	m.metrics.Sources.Set(0)
	m.statusLine = status
	m.appendLog(status)
	m.renderPanes()
}

func (m *model) handleSlash(raw string) tea.Cmd {
	parts := strings.Fields(strings.TrimSpace(raw))
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	tail := parts[1:]
	switch cmd {
	case "/help":
		m.switchTab(tabHelp)
		return nil
	case "/quit", "/exit":
		m.beginQuitConfirm()
		return nil
	case "/new":
		m.resetConversation("new session")
		return nil
	case "/cancel":
		if !m.inflight && !m.polling {
			m.statusLine = "nothing to cancel"
			return nil
		}
		m.resetConversation("generation canceled")
		return nil
	case "/wizard":
		m.switchTab(tabWizard)
		return nil
	case "/session":
		if m.session == nil {
			m.statusLine = "no session yet · the first message creates one"
			return nil
		}
		m.statusLine = fmt.Sprintf("session %s · app=%s user=%s", m.session.SessionID, m.session.AppName, m.session.UserID)
		return nil
	case "/brief":
		if len(tail) != 1 {
			m.statusLine = "usage: /brief <file.yaml>"
			return nil
		}
		return briefCmd(tail[0])
	case "/upload":
		if len(tail) < 2 || !briefing.ValidReferenceKind(strings.ToLower(tail[0])) {
			m.statusLine = "usage: /upload <character|product> <path> [description]"
			return nil
		}
		return m.uploadCmd(strings.ToLower(tail[0]), tail[1], strings.Join(tail[2:], " "))
	case "/delivery":
		if m.session == nil {
			m.statusLine = "no session yet"
			return nil
		}
		if m.polling {
			m.statusLine = "already waiting for delivery"
			return nil
		}
		return m.startDeliveryPoll()
	case "/download":
		if m.delivery == nil || !m.delivery.OK {
			m.statusLine = "delivery not ready yet"
			return nil
		}
		dir := m.cfg.downloadDir
		if len(tail) > 0 {
			dir = tail[0]
		}
		return m.downloadCmd(dir)
	case "/preview":
		if m.delivery == nil || !m.delivery.OK {
			m.statusLine = "delivery not ready yet"
			return nil
		}
		m.switchTab(tabPreview)
		return m.previewCmd()
	default:
		m.statusLine = "unknown command: " + cmd
		return nil
	}
}

func (m *model) currentStep() briefing.Step {
	return briefing.Steps[clampInt(m.wizardStep, 0, len(briefing.Steps)-1)]
}

func (m *model) loadWizardInput() {
	step := m.currentStep()
	m.input.Placeholder = step.Title
	if step.ID == briefing.StepReview {
		m.input.SetValue("")
		m.input.Placeholder = "Press Enter to generate the ads"
		return
	}
	m.input.SetValue(m.form.Get(step.ID))
	m.input.CursorEnd()
}

func (m *model) commitWizardField() {
	step := m.currentStep()
	if step.ID == briefing.StepReview {
		return
	}
	value := strings.TrimSpace(m.input.Value())
	m.form.Set(step.ID, value)
	if msg := briefing.ValidateField(step.ID, value); msg != "" {
		m.formErrs[step.ID] = msg
	} else {
		delete(m.formErrs, step.ID)
	}
}

func (m *model) handleWizardKey(key string) (tea.Cmd, bool) {
	step := m.currentStep()
	switch key {
	case "enter":
		m.commitWizardField()
		if step.ID == briefing.StepReview {
			m.formErrs = briefing.ValidateForm(m.form)
			if !briefing.CanProceed(m.wizardStep, m.form, m.formErrs) {
				m.statusLine = fmt.Sprintf("fix %d fields before generating", len(m.formErrs))
				return nil, true
			}
			if m.inflight {
				m.statusLine = "run in progress · /cancel or Ctrl+X to stop"
				return nil, true
			}
			if !m.ready {
				m.statusLine = "backend not ready yet"
				return nil, true
			}
			payload := briefing.FormatPayload(m.form)
			m.switchTab(tabChat)
			return m.submit(payload), true
		}
		if !briefing.CanProceed(m.wizardStep, m.form, m.formErrs) {
			m.statusLine = nullCoalesce(m.formErrs[step.ID], "this step is required")
			return nil, true
		}
		m.wizardStep++
		m.statusLine = fmt.Sprintf("step %d/%d", m.wizardStep+1, len(briefing.Steps))
		m.loadWizardInput()
		m.renderPanes()
		return nil, true
	case "ctrl+p", "pgup":
		m.commitWizardField()
		if m.wizardStep > 0 {
			m.wizardStep--
		}
		m.loadWizardInput()
		m.renderPanes()
		return nil, true
	case "left", "right":
		if len(step.Options) == 0 {
			return nil, false
		}
		values := make([]string, 0, len(step.Options)+1)
		if step.Optional {
			values = append(values, "")
		}
		for _, option := range step.Options {
			values = append(values, option.Value)
		}
		m.input.SetValue(cycleString(values, strings.TrimSpace(m.input.Value()), ternary(key == "left", -1, 1)))
		m.input.CursorEnd()
		return nil, true
	}
	return nil, false
}

const settingsRows = 7

func (m *model) adjustSetting(delta int) {
	if delta == 0 {
		return
	}
	switch m.settingsIndex {
	case 0:
		m.settings.preflight = !m.settings.preflight
	case 1:
		m.settings.preview = !m.settings.preview
	case 2:
		m.settings.autoDelivery = !m.settings.autoDelivery
	case 3:
		m.settings.retryAttempts = clampInt(m.settings.retryAttempts+delta, 1, 50)
	case 4:
		seconds := cycleInt([]int{15, 30, 60, 120, 300, 600}, int(m.settings.retryTimeout.Seconds()), delta)
		m.settings.retryTimeout = time.Duration(seconds) * time.Second
	case 5:
		m.settings.deliveryAttempts = clampInt(m.settings.deliveryAttempts+delta, 1, 500)
	case 6:
		m.settings.deliveryInterval = time.Duration(clampInt(int(m.settings.deliveryInterval.Seconds())+delta, 1, 60)) * time.Second
	}
	m.runner = run.NewRunner(m.client, m.runConfig(), m.log, m.metrics)
	m.statusLine = "settings updated"
}

func (m *model) appendLog(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	m.logs = append(m.logs, fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), compactSingleLine(trimmed, 220)))
	if len(m.logs) > 50 {
		m.logs = m.logs[len(m.logs)-50:]
	}
}

func (m *model) logError(err error) {
	if err == nil {
		return
	}
	m.log.Error("ui action failed", "err", err)
	m.appendLog("error: " + err.Error())
	m.statusLine = "error: " + compactSingleLine(err.Error(), 160)
}

func describeDelivery(meta backend.DeliveryMeta) string {
	name := nullCoalesce(meta.Filename, "artifact")
	if meta.Size > 0 {
		return fmt.Sprintf("%s (%s)", name, humanize.Bytes(uint64(meta.Size)))
	}
	return name
}

// uploadErrorText is the user-facing sentence for local image rejections.
func uploadErrorText(err error) string {
	switch {
	case errors.Is(err, briefing.ErrImageTooLarge):
		return "Arquivo muito grande. Limite de 5 MB."
	case errors.Is(err, briefing.ErrImageType):
		return "Formato inválido. Use PNG, JPEG ou WebP."
	}
	return err.Error()
}

func cloneRefs(refs backend.References) backend.References {
	out := make(backend.References, len(refs))
	for kind, ref := range refs {
		out[kind] = ref
	}
	return out
}
