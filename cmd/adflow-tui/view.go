package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"adflow/internal/briefing"
	"adflow/internal/conversation"
)

type uiTheme struct {
	root               lipgloss.Style
	header             lipgloss.Style
	tabActive          lipgloss.Style
	tabInactive        lipgloss.Style
	panel              lipgloss.Style
	panelTitle         lipgloss.Style
	footer             lipgloss.Style
	status             lipgloss.Style
	errorStatus        lipgloss.Style
	inputPanel         lipgloss.Style
	chatAgent          map[string]lipgloss.Style
	helpText           lipgloss.Style
	settingKey         lipgloss.Style
	settingValue       lipgloss.Style
	settingPick        lipgloss.Style
	launcherFrame      lipgloss.Style
	launcherFrameAlt   lipgloss.Style
	launcherTitle      lipgloss.Style
	launcherTitlePulse lipgloss.Style
	launcherAccent     lipgloss.Style
	launcherOption     lipgloss.Style
	launcherSelect     lipgloss.Style
	launcherBoot       lipgloss.Style
	launcherReady      lipgloss.Style
	launcherMuted      lipgloss.Style
	launcherScanlineA  lipgloss.Style
	launcherScanlineB  lipgloss.Style
}

func newTheme() uiTheme {
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	yellow := lipgloss.Color("#ffd166")
	bg := lipgloss.Color("#120924")
	panelBg := lipgloss.Color("#1b0f35")
	text := lipgloss.Color("#f3f3ff")
	muted := lipgloss.Color("#9ca3d8")

	return uiTheme{
		root: lipgloss.NewStyle().
			Background(bg).
			Foreground(text).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		tabActive: lipgloss.NewStyle().
			Background(pink).
			Foreground(lipgloss.Color("#22062f")).
			Bold(true).
			Padding(0, 1),
		tabInactive: lipgloss.NewStyle().
			Background(lipgloss.Color("#2a184a")).
			Foreground(muted).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().
			Foreground(mint).
			Bold(true),
		footer: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(muted).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(pink).
			Padding(0, 1),
		status:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		inputPanel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint).
			Padding(0, 1),
		helpText:     lipgloss.NewStyle().Foreground(muted),
		settingKey:   lipgloss.NewStyle().Foreground(blue),
		settingValue: lipgloss.NewStyle().Foreground(text),
		settingPick:  lipgloss.NewStyle().Foreground(pink).Bold(true),
		launcherFrame: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(pink).
			Padding(1, 2),
		launcherFrameAlt: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(blue).
			Padding(1, 2),
		launcherTitle:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		launcherTitlePulse: lipgloss.NewStyle().Foreground(pink).Bold(true),
		launcherAccent:     lipgloss.NewStyle().Foreground(mint).Bold(true),
		launcherOption:     lipgloss.NewStyle().Foreground(text),
		launcherSelect: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#22062f")).
			Background(pink).
			Bold(true).
			Padding(0, 1),
		launcherBoot:      lipgloss.NewStyle().Foreground(yellow).Bold(true),
		launcherReady:     lipgloss.NewStyle().Foreground(mint).Bold(true),
		launcherMuted:     lipgloss.NewStyle().Foreground(muted),
		launcherScanlineA: lipgloss.NewStyle().Background(lipgloss.Color("#150b2d")),
		launcherScanlineB: lipgloss.NewStyle().Background(lipgloss.Color("#311a63")),
		chatAgent: map[string]lipgloss.Style{
			"user":       lipgloss.NewStyle().Foreground(mint).Bold(true),
			"planner":    lipgloss.NewStyle().Foreground(pink).Bold(true),
			"composer":   lipgloss.NewStyle().Foreground(yellow).Bold(true),
			"researcher": lipgloss.NewStyle().Foreground(blue).Bold(true),
			"worker":     lipgloss.NewStyle().Foreground(blue),
			"notice":     lipgloss.NewStyle().Foreground(muted).Bold(true),
		},
	}
}

func (m model) View() string {
	if m.unavailable != nil {
		return m.theme.root.Render(m.renderUnavailable())
	}
	out := ""
	if m.launcherActive {
		out = m.renderLauncher()
	} else {
		header := m.renderHeader()
		content := m.renderContent()
		input := m.renderInput()
		footer := m.renderFooter()
		out = lipgloss.JoinVertical(lipgloss.Left, header, content, input, footer)
	}
	if m.quitConfirm {
		out = m.renderQuitModal()
	}
	return m.theme.root.Render(out)
}

func (m *model) renderUnavailable() string {
	body := strings.Join([]string{
		m.theme.panelTitle.Render("Backend Unavailable"),
		"",
		m.theme.errorStatus.Render(m.unavailable.Error()),
		"",
		m.theme.helpText.Render("Checked " + m.client.BaseURL() + "/docs without an answer."),
		m.theme.helpText.Render("Start the agent backend, then press r to retry. q or Ctrl+C exits."),
	}, "\n")
	return m.theme.panel.Width(maxInt(20, m.width-4)).Render(body)
}

func (m *model) renderLauncher() string {
	contentWidth := maxInt(48, minInt(100, m.width-4))

	pulseOn := ((m.launcherPulse / 2) % 2) == 0
	titleStyle := m.theme.launcherTitle
	frameStyle := m.theme.launcherFrame
	if pulseOn {
		titleStyle = m.theme.launcherTitlePulse
		frameStyle = m.theme.launcherFrameAlt
	}

	innerWidth := clampInt(contentWidth-8, 34, 74)
	rule := "+" + strings.Repeat("-", innerWidth) + "+"
	headerA := "| " + padRight("ADFLOW CREATIVE CONSOLE", innerWidth-2) + " |"
	headerB := "| " + padRight("one brief -> a pipeline of agents -> ads", innerWidth-2) + " |"

	statusLabel := "CONNECTING"
	statusStyle := m.theme.launcherBoot
	statusDetail := "waiting for the agent backend at " + m.client.BaseURL()
	if m.ready {
		statusLabel = "ONLINE"
		statusStyle = m.theme.launcherReady
		statusDetail = "backend ready. pick a pane or start briefing."
	}
	bootLine := statusStyle.Render("["+statusLabel+"]") + " " + statusDetail

	var options strings.Builder
	for idx, item := range m.launcherItems {
		prefix := "   "
		if idx == m.launcherIndex {
			prefix = ">> "
		}
		line := fmt.Sprintf("%s%d. %s", prefix, idx+1, item)
		if idx == m.launcherIndex {
			options.WriteString(m.theme.launcherSelect.Render(line))
		} else {
			options.WriteString(m.theme.launcherOption.Render(line))
		}
		options.WriteString("\n")
	}

	body := strings.Join([]string{
		titleStyle.Render("AdFlow"),
		m.theme.launcherMuted.Render("Terminal client for the ad briefing agents"),
		"",
		m.theme.launcherAccent.Render(rule),
		m.theme.launcherAccent.Render(headerA),
		m.theme.launcherAccent.Render(headerB),
		m.theme.launcherAccent.Render(rule),
		"",
		m.spinner.View() + " " + bootLine,
		m.theme.launcherMuted.Render("App: " + m.client.AppName() + " · User: " + m.client.UserID()),
		"",
		strings.TrimRight(options.String(), "\n"),
		"",
		m.theme.launcherMuted.Render("Keys: up/down choose | enter launch | esc skip to chat | q quit prompt"),
	}, "\n")
	body = applyScanlineOverlay(body, m.theme.launcherScanlineA, m.theme.launcherScanlineB)

	panel := frameStyle.Width(contentWidth).Render(body)
	return lipgloss.Place(
		maxInt(contentWidth+2, m.width-2),
		maxInt(16, m.height-2),
		lipgloss.Center,
		lipgloss.Center,
		panel,
	)
}

func applyScanlineOverlay(text string, lineA lipgloss.Style, lineB lipgloss.Style) string {
	lines := strings.Split(text, "\n")
	maxWidth := 0
	for _, line := range lines {
		maxWidth = maxInt(maxWidth, lipgloss.Width(line))
	}
	if maxWidth <= 0 {
		return text
	}
	out := make([]string, 0, len(lines))
	for idx, line := range lines {
		padded := line + strings.Repeat(" ", maxInt(0, maxWidth-lipgloss.Width(line)))
		out = append(out, ternary(idx%2 == 0, lineA, lineB).Render(padded))
	}
	return strings.Join(out, "\n")
}

func (m *model) renderHeader() string {
	tabs := []struct {
		id    tabID
		label string
	}{
		{tabChat, "Chat"},
		{tabWizard, "Wizard"},
		{tabPreview, "Preview"},
		{tabSettings, "Settings"},
		{tabHelp, "Help"},
	}
	segments := make([]string, 0, len(tabs)+1)
	for _, tab := range tabs {
		style := m.theme.tabInactive
		if tab.id == m.activeTab {
			style = m.theme.tabActive
		}
		segments = append(segments, style.Render(tab.label))
	}
	sessionID := "n/a"
	if m.session != nil {
		sessionID = m.session.SessionID
	}
	meta := fmt.Sprintf(" Session: %s · Sources: %d", sessionID, m.conv.SourceCount())
	segments = append(segments, m.theme.helpText.Render(meta))
	joined := lipgloss.JoinHorizontal(lipgloss.Left, segments...)
	return m.theme.header.Width(maxInt(20, m.width-4)).Render(joined)
}

func (m *model) renderContent() string {
	contentHeight := maxInt(8, m.height-12)
	contentWidth := maxInt(40, m.width-4)

	switch m.activeTab {
	case tabChat:
		leftWidth, rightWidth := chatPanelWidths(contentWidth)
		left := m.theme.panel.Width(leftWidth).Height(contentHeight).Render(
			m.theme.panelTitle.Render("Conversation") + "\n" + m.timeline.View(),
		)
		right := m.theme.panel.Width(rightWidth).Height(contentHeight).Render(
			m.theme.panelTitle.Render("Agent Activity") + "\n" + m.sidebar.View(),
		)
		return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	case tabWizard:
		panel := m.theme.panel.Width(contentWidth).Height(contentHeight)
		return panel.Render(m.theme.panelTitle.Render("Briefing Wizard") + "\n" + m.renderWizard())
	case tabPreview:
		panel := m.theme.panel.Width(contentWidth).Height(contentHeight)
		return panel.Render(m.theme.panelTitle.Render("Ad Preview") + "\n" + m.renderPreview())
	case tabSettings:
		panel := m.theme.panel.Width(contentWidth).Height(contentHeight)
		return panel.Render(m.theme.panelTitle.Render("Runtime Settings") + "\n" + m.renderSettings())
	case tabHelp:
		panel := m.theme.panel.Width(contentWidth).Height(contentHeight)
		return panel.Render(m.theme.panelTitle.Render("AdFlow Help") + "\n" + m.renderHelp())
	default:
		return ""
	}
}

func chatPanelWidths(contentWidth int) (int, int) {
	leftWidth := int(float64(contentWidth) * 0.64)
	rightWidth := contentWidth - leftWidth - 1
	if rightWidth < 28 {
		rightWidth = 28
		leftWidth = contentWidth - rightWidth - 1
	}
	return leftWidth, rightWidth
}

func (m *model) messageLabel(msg conversation.Message) (string, lipgloss.Style) {
	if msg.Type == conversation.MessageHuman {
		return "you", m.theme.chatAgent["user"]
	}
	switch msg.Agent {
	case "preflight", "error":
		return msg.Agent, m.theme.chatAgent["notice"]
	case "":
		return "assistant", m.theme.chatAgent["worker"]
	}
	label := msg.Agent
	if msg.IsFinalReport {
		label += " · final report"
	}
	style, ok := m.theme.chatAgent[conversation.RoleOf(msg.Agent).String()]
	if !ok {
		style = m.theme.chatAgent["worker"]
	}
	return label, style
}

func (m *model) renderConversation() string {
	messages := m.conv.Messages()
	if len(messages) == 0 && m.pending == "" {
		return "No messages yet. Describe the campaign here, or build it step by step in the Wizard tab."
	}
	width := maxInt(20, m.timeline.Width)
	var b strings.Builder
	for _, msg := range messages {
		active := m.stream != nil && msg.ID == m.stream.AIMessageID && m.inflight
		entries := m.conv.Timeline(msg.ID)
		content := msg.Content
		if msg.Type == conversation.MessageAI && !msg.IsFinalReport {
			content = compactMessage(content, 40, 4000)
		}
		if strings.TrimSpace(content) == "" && len(entries) == 0 && !active {
			continue
		}
		label, style := m.messageLabel(msg)
		b.WriteString(style.Render(label))
		b.WriteString("\n")
		if strings.TrimSpace(content) == "" && active {
			content = m.spinner.View() + " agents working..."
		}
		if content != "" {
			b.WriteString(wrapText(content, width))
			b.WriteString("\n")
		}
		for _, entry := range entries {
			line := "  ↳ " + entry.Title
			if summary := timelineSummary(entry); summary != "" {
				line += ": " + summary
			}
			b.WriteString(m.theme.helpText.Render(truncate(line, width)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if m.pending != "" {
		b.WriteString(m.theme.chatAgent["user"].Render("you"))
		b.WriteString("\n")
		b.WriteString(wrapText(m.pending, width))
		b.WriteString("\n")
		b.WriteString(m.theme.helpText.Render(m.spinner.View() + " opening session..."))
	}
	return strings.TrimRight(b.String(), "\n")
}

func timelineSummary(entry conversation.TimelineEntry) string {
	switch entry.Data.Kind {
	case conversation.TimelineFunctionCall:
		if call := entry.Data.Call; call != nil {
			return compactSingleLine(call.Name+" "+string(call.Args), 160)
		}
	case conversation.TimelineFunctionResponse:
		if resp := entry.Data.Response; resp != nil {
			return compactSingleLine(string(resp.Response), 160)
		}
	case conversation.TimelineSources:
		return compactSingleLine(string(entry.Data.Sources), 160)
	default:
		return compactSingleLine(entry.Data.Text, 160)
	}
	return ""
}

func (m *model) renderActivity() string {
	var b strings.Builder
	if m.session != nil {
		b.WriteString(m.theme.settingKey.Render("Session") + " " + m.session.SessionID + "\n")
		b.WriteString(m.theme.helpText.Render(fmt.Sprintf("app=%s user=%s", m.session.AppName, m.session.UserID)) + "\n")
	} else {
		b.WriteString(m.theme.settingKey.Render("Session") + " none yet\n")
	}
	b.WriteString(m.theme.settingKey.Render("Sources") + " " + strconv.Itoa(m.conv.SourceCount()) + "\n")
	if m.stream != nil && m.stream.CurrentAgent != "" {
		b.WriteString(m.theme.settingKey.Render("Agent") + " " + m.stream.CurrentAgent + "\n")
	}
	if m.lastRun.Frames > 0 {
		b.WriteString(m.theme.helpText.Render(fmt.Sprintf(
			"last run: %d frames, %d skipped, %s",
			m.lastRun.Frames, m.lastRun.Malformed, m.lastRun.Elapsed.Round(time.Millisecond),
		)) + "\n")
	}

	switch {
	case m.delivery != nil && m.delivery.OK:
		b.WriteString(m.theme.settingKey.Render("Delivery") + " " + describeDelivery(*m.delivery) + "\n")
	case m.polling:
		b.WriteString(m.theme.settingKey.Render("Delivery") + " " + m.spinner.View() + " waiting\n")
	default:
		b.WriteString(m.theme.settingKey.Render("Delivery") + " -\n")
	}

	if len(m.refs) > 0 {
		b.WriteString("\n" + m.theme.panelTitle.Render("References") + "\n")
		kinds := make([]string, 0, len(m.refs))
		for kind := range m.refs {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			ref := m.refs[kind]
			line := fmt.Sprintf("%s: %s", kind, ref.ID)
			if ref.UserDescription != "" {
				line += " · " + ref.UserDescription
			}
			if len(ref.Labels) > 0 {
				line += " [" + strings.Join(ref.Labels, ", ") + "]"
			}
			b.WriteString(truncate(line, maxInt(20, m.sidebar.Width)) + "\n")
		}
	}

	if id := m.conv.LastAIMessageID(); id != "" {
		entries := m.conv.Timeline(id)
		if len(entries) > 0 {
			b.WriteString("\n" + m.theme.panelTitle.Render("Steps") + "\n")
			for _, entry := range entries {
				b.WriteString(truncate("• "+entry.Title, maxInt(20, m.sidebar.Width)) + "\n")
			}
		}
	}

	if len(m.logs) > 0 {
		b.WriteString("\n" + m.theme.panelTitle.Render("Log") + "\n")
		start := maxInt(0, len(m.logs)-12)
		for _, line := range m.logs[start:] {
			b.WriteString(m.theme.helpText.Render(truncate(line, maxInt(20, m.sidebar.Width))) + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func (m *model) renderWizard() string {
	step := m.currentStep()
	completed := map[int]bool{}
	for _, idx := range briefing.CompletedSteps(m.form, m.wizardStep) {
		completed[idx] = true
	}

	var progress strings.Builder
	for idx := range briefing.Steps {
		switch {
		case idx == m.wizardStep:
			progress.WriteString(m.theme.settingPick.Render("●"))
		case completed[idx]:
			progress.WriteString(m.theme.launcherAccent.Render("✓"))
		default:
			progress.WriteString(m.theme.helpText.Render("○"))
		}
		progress.WriteString(" ")
	}

	var b strings.Builder
	b.WriteString(progress.String() + m.theme.helpText.Render(fmt.Sprintf(" step %d/%d", m.wizardStep+1, len(briefing.Steps))))
	b.WriteString("\n\n")
	title := step.Title
	if step.Optional {
		title += " (opcional)"
	}
	b.WriteString(m.theme.settingPick.Render(title) + "\n")
	b.WriteString(m.theme.helpText.Render(step.Description) + "\n\n")

	if step.ID == briefing.StepReview {
		for _, field := range briefing.Steps[:len(briefing.Steps)-1] {
			value := nullCoalesce(m.form.Get(field.ID), "-")
			b.WriteString(m.theme.settingKey.Render(padRight(field.ID, 22)) + " " + m.theme.settingValue.Render(compactSingleLine(value, 90)) + "\n")
			if msg := m.formErrs[field.ID]; msg != "" {
				b.WriteString("   " + m.theme.errorStatus.Render(msg) + "\n")
			}
		}
		b.WriteString("\n" + m.theme.helpText.Render("Enter generates the ads · Ctrl+P goes back to edit"))
		return strings.TrimSpace(b.String())
	}

	if len(step.Options) > 0 {
		current := strings.TrimSpace(m.input.Value())
		for _, option := range step.Options {
			prefix := "  "
			labelStyle := m.theme.settingKey
			if option.Value == current {
				prefix = "▶ "
				labelStyle = m.theme.settingPick
			}
			b.WriteString(prefix + labelStyle.Render(padRight(option.Label, 20)) + " " + m.theme.helpText.Render(option.Description) + "\n")
		}
		b.WriteString("\n")
	}
	if msg := m.formErrs[step.ID]; msg != "" {
		b.WriteString(m.theme.errorStatus.Render(msg) + "\n\n")
	}
	hint := "Type the answer below · Enter next · Ctrl+P back"
	if len(step.Options) > 0 {
		hint = "←/→ pick an option · Enter next · Ctrl+P back"
	}
	b.WriteString(m.theme.helpText.Render(hint))
	return strings.TrimSpace(b.String())
}

func (m *model) renderPreview() string {
	if !m.settings.preview {
		return m.theme.helpText.Render("Preview is off. Enable it in Settings, or use /download for the raw artifact.")
	}
	if len(m.variations) == 0 {
		switch {
		case m.polling:
			return m.spinner.View() + " waiting for the delivery..."
		case m.delivery != nil && m.delivery.OK:
			return m.theme.helpText.Render("Delivery " + describeDelivery(*m.delivery) + " is ready. Press r to load the preview.")
		default:
			return m.theme.helpText.Render("No ads yet. Finish a run in the Chat tab and the preview appears here.")
		}
	}

	width := maxInt(30, m.width-10)
	v := m.variations[clampInt(m.previewIndex, 0, len(m.variations)-1)]
	var b strings.Builder
	b.WriteString(m.theme.settingPick.Render(fmt.Sprintf("Variation %d/%d", m.previewIndex+1, len(m.variations))))
	b.WriteString("  " + m.theme.settingKey.Render(v.Format+" · "+v.Visual.AspectRatio) + "\n")
	if v.Vertical() {
		b.WriteString(m.theme.helpText.Render("Vertical format: keep key content out of the top and bottom UI zones.") + "\n")
	}
	b.WriteString("\n")

	field := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		b.WriteString(m.theme.settingKey.Render(label) + "\n")
		b.WriteString(wrapText(value, width) + "\n\n")
	}
	field("Headline", v.Copy.Headline)
	field("Texto", v.Copy.Body)
	field("CTA", v.Copy.CTAText)
	field("CTA Instagram", v.CTAInstagram)
	field("Landing page", v.LandingPageURL)
	field("Imagem", v.Visual.ImageDescription)
	for _, prompt := range v.Prompts() {
		field("Prompt · "+prompt[0], prompt[1])
	}
	if len(v.Visual.Images) > 0 {
		field("Imagens", strings.Join(v.Visual.Images, "\n"))
	}
	field("Fluxo", v.Flow)
	field("Referências", v.PatternRefs)
	if len(v.LandingContext) > 0 {
		field("Contexto da landing", compactSingleLine(string(v.LandingContext), 400))
	}
	b.WriteString(m.theme.helpText.Render("←/→ switch variation · r reload · /download saves the artifact"))
	return strings.TrimSpace(b.String())
}

func (m *model) renderSettings() string {
	rows := []struct {
		label string
		value string
		help  string
	}{
		{"Preflight", onOff(m.settings.preflight), "validate the first message of a session before running"},
		{"Ad Preview", onOff(m.settings.preview), "load the ads preview when delivery is ready"},
		{"Auto Delivery", onOff(m.settings.autoDelivery), "poll delivery metadata after each run"},
		{"Retry Attempts", strconv.Itoa(m.settings.retryAttempts), "session create and run start attempts"},
		{"Retry Budget", m.settings.retryTimeout.String(), "overall time limit across retries"},
		{"Delivery Checks", strconv.Itoa(m.settings.deliveryAttempts), "metadata checks before giving up"},
		{"Delivery Interval", fmt.Sprintf("%ds", int(m.settings.deliveryInterval.Seconds())), "pause between delivery checks"},
	}
	var b strings.Builder
	b.WriteString(m.theme.helpText.Render("Use ↑/↓ to select and ←/→ (or -/+) to change values."))
	b.WriteString("\n\n")
	for i, row := range rows {
		labelStyle := m.theme.settingKey
		valueStyle := m.theme.settingValue
		prefix := "  "
		if i == m.settingsIndex {
			labelStyle = m.theme.settingPick
			valueStyle = m.theme.settingPick
			prefix = "▶ "
		}
		b.WriteString(prefix + labelStyle.Render(fmt.Sprintf("%-18s", row.label)) + " " + valueStyle.Render(row.value) + "\n")
		b.WriteString("   " + m.theme.helpText.Render(row.help) + "\n")
	}
	b.WriteString("\nBackend: " + m.client.BaseURL() + " · app: " + m.client.AppName() + " · user: " + m.client.UserID())
	if m.cfg.metricsAddr != "" {
		b.WriteString("\nMetrics: http://" + m.cfg.metricsAddr + "/metrics")
	}
	return strings.TrimSpace(b.String())
}

func (m *model) renderHelp() string {
	lines := []string{
		"Core Keys",
		"- Launcher: Up/Down select, Enter launch, Esc skip to chat",
		"- Tab / Shift+Tab: switch views",
		"- Enter: send message (Chat) or confirm step (Wizard)",
		"- Ctrl+X: cancel the running generation and start over",
		"- Esc: from non-chat tabs, return to launcher menu",
		"- Esc in chat: show quit confirmation",
		"- Conversation scroll: PgUp/PgDn, Up/Down (input empty), Home/End",
		"- Ctrl+C: quit",
		"",
		"Flow",
		"- The first message runs a preflight check and opens a session",
		"- Planner text streams into the reply; other agents show up as steps",
		"- The final report arrives as its own message",
		"- When the run ends, delivery is polled and the preview loads",
		"",
		"Slash Commands",
		"- /brief <file.yaml>: load a brief into the wizard",
		"- /wizard: open the briefing wizard",
		"- /upload <character|product> <path> [description]: attach a reference image (PNG, JPEG or WebP, up to " + humanize.Bytes(briefing.MaxImageBytes) + ")",
		"- /delivery: check delivery again",
		"- /preview: reload the ads preview",
		"- /download [dir]: save the final artifact",
		"- /session: show the current session",
		"- /cancel: stop the running generation",
		"- /new: drop the session and start over",
		"- /help, /quit",
	}
	return strings.Join(lines, "\n")
}

func (m *model) renderInput() string {
	contentWidth := maxInt(40, m.width-4)
	if m.activeTab != tabChat && m.activeTab != tabWizard {
		return m.theme.inputPanel.Width(contentWidth).Render(m.theme.helpText.Render("Input disabled outside Chat and Wizard. Press Tab to return."))
	}
	if m.activeTab == tabWizard && m.currentStep().ID == briefing.StepReview {
		return m.theme.inputPanel.Width(contentWidth).Render(m.theme.helpText.Render("Review the brief above and press Enter to generate."))
	}
	inputView := m.input.View()
	if m.inflight {
		inputView = m.spinner.View() + " processing... " + inputView
	}
	return m.theme.inputPanel.Width(contentWidth).Render(inputView)
}

func (m *model) renderFooter() string {
	contentWidth := maxInt(40, m.width-4)
	statusStyle := m.theme.status
	lower := strings.ToLower(m.statusLine)
	if strings.Contains(lower, "failed") || strings.Contains(lower, "error") || strings.Contains(lower, "blocked") {
		statusStyle = m.theme.errorStatus
	}
	line := statusStyle.Render(compactSingleLine(m.statusLine, 180))
	hints := m.theme.helpText.Render("Keys: Tab switch view · Enter send · Ctrl+X cancel run · PgUp/PgDn scroll · Esc menu/quit prompt · Ctrl+C quit")
	return m.theme.footer.Width(contentWidth).Render(line + "\n" + hints)
}

func (m *model) renderQuitModal() string {
	canvasWidth := maxInt(40, m.width-4)
	canvasHeight := maxInt(12, m.height-4)
	modalWidth := clampInt(int(float64(canvasWidth)*0.56), 32, 78)
	if modalWidth > canvasWidth-2 {
		modalWidth = maxInt(32, canvasWidth-2)
	}

	note := "The session lives on the backend; a new run needs a new brief."
	if m.inflight {
		note = "A generation is still running and will be abandoned."
	}
	accent := m.theme.launcherAccent.Render(strings.Repeat("=", 40))
	body := strings.Join([]string{
		m.theme.errorStatus.Render("LEAVE ADFLOW?"),
		m.theme.helpText.Render("Are you sure you want to quit?"),
		"",
		accent,
		m.theme.helpText.Render(note),
		accent,
		"",
		m.theme.settingPick.Render("[Y / Enter] Quit") + "    " + m.theme.helpText.Render("[N / Esc] Return"),
	}, "\n")
	panel := m.theme.launcherFrameAlt.Width(modalWidth).Render(body)
	return lipgloss.Place(
		canvasWidth,
		canvasHeight,
		lipgloss.Center,
		lipgloss.Center,
		panel,
		lipgloss.WithWhitespaceBackground(lipgloss.Color("#120924")),
	)
}

func (m *model) resize() {
	contentWidth := maxInt(40, m.width-4)
	m.input.Width = maxInt(20, contentWidth-6)
}

func (m *model) renderPanes() {
	prevTimelineYOffset := m.timeline.YOffset
	prevTimelineAtBottom := m.timeline.AtBottom()
	prevSidebarYOffset := m.sidebar.YOffset
	prevSidebarAtBottom := m.sidebar.AtBottom()

	contentHeight := maxInt(8, m.height-12)
	leftWidth, rightWidth := chatPanelWidths(maxInt(40, m.width-4))

	m.timeline.Width = maxInt(20, leftWidth-4)
	m.timeline.Height = maxInt(5, contentHeight-3)
	m.sidebar.Width = maxInt(20, rightWidth-4)
	m.sidebar.Height = maxInt(5, contentHeight-3)

	m.timeline.SetContent(m.renderConversation())
	if prevTimelineAtBottom {
		m.timeline.GotoBottom()
	} else {
		m.timeline.SetYOffset(prevTimelineYOffset)
	}
	m.sidebar.SetContent(m.renderActivity())
	if prevSidebarAtBottom {
		m.sidebar.GotoBottom()
	} else {
		m.sidebar.SetYOffset(prevSidebarYOffset)
	}
}
