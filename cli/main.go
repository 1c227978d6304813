package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Styling
var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#0a84ff")).
			Padding(0, 1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#30d158")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#ff453a")).
			Padding(0, 1)
)

const (
	viewMain     = "main"
	viewAgent    = "agent"
	viewPatterns = "patterns"
	viewEpisodes = "episodes"
	viewMonitor  = "monitor"
	viewEvaluate = "evaluate"
)

// Model defines the application state
type Model struct {
	mainMenu     list.Model
	patternTable table.Model
	episodeTable table.Model
	monitorTable table.Model
	suiteInput   textinput.Model
	spinner      spinner.Model
	client       *ApiClient

	agent       *AgentMetrics
	evaluation  *EvaluationResult
	loading     bool
	currentView string
	status      string
	error       string
}

// item represents a list item
type item struct {
	title, desc, view string
}

func (i item) FilterValue() string { return i.title }
func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }

func newTable(columns []table.Column) table.Model {
	return table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)
}

// Initialize the model
func initialModel(client *ApiClient) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	items := []list.Item{
		item{title: "Agent", desc: "Attempts, scores and exploration rate", view: viewAgent},
		item{title: "Learned Patterns", desc: "Most frequent patterns", view: viewPatterns},
		item{title: "Episodes", desc: "Stored trainer and loop episodes", view: viewEpisodes},
		item{title: "Monitor", desc: "Live run metrics", view: viewMonitor},
		item{title: "Evaluate", desc: "Run an evaluation suite (needs RLVR_TOKEN)", view: viewEvaluate},
		item{title: "Exit", desc: "Exit the application"},
	}
	mainMenu := list.New(items, list.NewDefaultDelegate(), 0, 0)
	mainMenu.Title = "rlvr playground"

	ti := textinput.New()
	ti.Placeholder = "arithmetic"
	ti.CharLimit = 64
	ti.Width = 30

	return Model{
		mainMenu: mainMenu,
		patternTable: newTable([]table.Column{
			{Title: "Pattern", Width: 40},
			{Title: "Frequency", Width: 10},
		}),
		episodeTable: newTable([]table.Column{
			{Title: "Run", Width: 10},
			{Title: "Source", Width: 8},
			{Title: "Episode", Width: 8},
			{Title: "Steps", Width: 6},
			{Title: "Success", Width: 8},
			{Title: "Score", Width: 8},
			{Title: "Reward", Width: 8},
			{Title: "Explore", Width: 8},
		}),
		monitorTable: newTable([]table.Column{
			{Title: "Metric", Width: 40},
			{Title: "Value", Width: 30},
		}),
		suiteInput:  ti,
		spinner:     s,
		client:      client,
		currentView: viewMain,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.EnterAltScreen, checkHealth(m.client))
}

// Update handles UI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		m.mainMenu.SetSize(msg.Width-h, msg.Height-v)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q":
			if m.currentView != viewEvaluate {
				return m, tea.Quit
			}
		case "esc":
			m.currentView = viewMain
			m.error = ""
			m.suiteInput.Blur()
			return m, nil
		case "r":
			if m.currentView != viewMain && m.currentView != viewEvaluate {
				m.loading = true
				return m, m.refresh()
			}
		case "enter":
			switch m.currentView {
			case viewMain:
				selected, ok := m.mainMenu.SelectedItem().(item)
				if !ok {
					return m, nil
				}
				if selected.view == "" {
					return m, tea.Quit
				}
				m.currentView = selected.view
				m.error = ""
				if m.currentView == viewEvaluate {
					m.evaluation = nil
					m.suiteInput.SetValue("")
					return m, m.suiteInput.Focus()
				}
				m.loading = true
				return m, m.refresh()
			case viewEvaluate:
				suite := strings.TrimSpace(m.suiteInput.Value())
				if suite == "" {
					suite = m.suiteInput.Placeholder
				}
				m.loading = true
				return m, runEvaluation(m.client, suite)
			}
		}
	case healthMsg:
		m.status = msg.status
		return m, nil
	case agentMsg:
		m.loading = false
		m.agent = msg.metrics
		return m, nil
	case patternsMsg:
		m.loading = false
		m.patternTable.SetRows(patternRows(msg.patterns))
		return m, nil
	case episodesMsg:
		m.loading = false
		m.episodeTable.SetRows(episodeRows(msg.episodes))
		return m, nil
	case monitorMsg:
		m.loading = false
		m.monitorTable.SetRows(monitorRows(msg.metrics))
		return m, nil
	case evaluationMsg:
		m.loading = false
		m.evaluation = msg.result
		return m, nil
	case errorMsg:
		m.loading = false
		m.error = msg.err
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	switch m.currentView {
	case viewMain:
		m.mainMenu, cmd = m.mainMenu.Update(msg)
	case viewPatterns:
		m.patternTable, cmd = m.patternTable.Update(msg)
	case viewEpisodes:
		m.episodeTable, cmd = m.episodeTable.Update(msg)
	case viewMonitor:
		m.monitorTable, cmd = m.monitorTable.Update(msg)
	case viewEvaluate:
		m.suiteInput, cmd = m.suiteInput.Update(msg)
	}
	return m, cmd
}

// refresh fetches the data behind the current view
func (m Model) refresh() tea.Cmd {
	switch m.currentView {
	case viewAgent:
		return fetchAgent(m.client)
	case viewPatterns:
		return fetchPatterns(m.client)
	case viewEpisodes:
		return fetchEpisodes(m.client)
	case viewMonitor:
		return fetchMonitor(m.client)
	}
	return nil
}

// View renders the UI
func (m Model) View() string {
	if m.currentView == viewMain {
		view := m.mainMenu.View()
		if m.status != "" {
			view += "\n" + m.status
		}
		return docStyle.Render(view)
	}

	var title, body string
	switch m.currentView {
	case viewAgent:
		title, body = "Agent", agentView(m.agent)
	case viewPatterns:
		title, body = "Learned Patterns", m.patternTable.View()
	case viewEpisodes:
		title, body = "Episodes", m.episodeTable.View()
	case viewMonitor:
		title, body = "Monitor", m.monitorTable.View()
	case viewEvaluate:
		title, body = "Evaluate", "Suite: "+m.suiteInput.View()+"\n\n"+evaluationView(m.evaluation)
	}

	view := titleStyle.Render(title) + "\n\n"
	if m.loading {
		view += m.spinner.View() + " loading\n\n"
	}
	view += body + "\n"
	if m.error != "" {
		view += "\n" + errorStyle.Render(m.error) + "\n"
	}
	help := "\n'r' refresh, 'esc' back, 'q' quit"
	if m.currentView == viewEvaluate {
		help = "\n'enter' run, 'esc' back"
	}
	return docStyle.Render(view + help)
}

// Custom message types for the tea.Model
type healthMsg struct{ status string }

type agentMsg struct{ metrics *AgentMetrics }

type patternsMsg struct{ patterns []Pattern }

type episodesMsg struct{ episodes []Episode }

type monitorMsg struct{ metrics map[string]any }

type evaluationMsg struct{ result *EvaluationResult }

type errorMsg struct{ err string }

func checkHealth(client *ApiClient) tea.Cmd {
	return func() tea.Msg {
		if ok, err := client.CheckHealth(); !ok {
			return healthMsg{status: errorStyle.Render(fmt.Sprintf("%s unreachable: %v", client.BaseURL, err))}
		}
		return healthMsg{status: successStyle.Render("connected to " + client.BaseURL)}
	}
}

func fetchAgent(client *ApiClient) tea.Cmd {
	return func() tea.Msg {
		metrics, err := client.GetAgentMetrics()
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error fetching agent metrics: %v", err)}
		}
		return agentMsg{metrics: metrics}
	}
}

func fetchPatterns(client *ApiClient) tea.Cmd {
	return func() tea.Msg {
		patterns, err := client.GetPatterns(50)
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error fetching patterns: %v", err)}
		}
		return patternsMsg{patterns: patterns}
	}
}

func fetchEpisodes(client *ApiClient) tea.Cmd {
	return func() tea.Msg {
		episodes, err := client.GetEpisodes("", 100)
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error fetching episodes: %v", err)}
		}
		return episodesMsg{episodes: episodes}
	}
}

func fetchMonitor(client *ApiClient) tea.Cmd {
	return func() tea.Msg {
		metrics, err := client.GetMonitorMetrics()
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error fetching metrics: %v", err)}
		}
		return monitorMsg{metrics: metrics}
	}
}

func runEvaluation(client *ApiClient, suite string) tea.Cmd {
	return func() tea.Msg {
		res, err := client.Evaluate(suite, 20)
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error evaluating %s: %v", suite, err)}
		}
		return evaluationMsg{result: res}
	}
}

func patternRows(patterns []Pattern) []table.Row {
	rows := make([]table.Row, len(patterns))
	for i, p := range patterns {
		rows[i] = table.Row{p.Pattern, fmt.Sprint(p.Frequency)}
	}
	return rows
}

func episodeRows(episodes []Episode) []table.Row {
	rows := make([]table.Row, len(episodes))
	for i, e := range episodes {
		run := e.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		rows[i] = table.Row{
			run,
			e.Source,
			fmt.Sprint(e.Episode),
			fmt.Sprint(e.Steps),
			fmt.Sprintf("%.2f", e.SuccessRate),
			fmt.Sprintf("%.3f", e.AverageScore),
			fmt.Sprintf("%.3f", e.AverageReward),
			fmt.Sprintf("%.3f", e.ExplorationRate),
		}
	}
	return rows
}

// monitorRows sorts metrics by name.
func monitorRows(metrics map[string]any) []table.Row {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]table.Row, len(keys))
	for i, k := range keys {
		rows[i] = table.Row{k, formatValue(metrics[k])}
	}
	return rows
}

func formatValue(v any) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%.4g", f)
	}
	return fmt.Sprint(v)
}

func agentView(m *AgentMetrics) string {
	if m == nil {
		return "No data yet"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Attempts:         %d (%d successful)\n", m.TotalAttempts, m.SuccessfulAttempts)
	fmt.Fprintf(&b, "Average score:    %.3f\n", m.AverageScore)
	fmt.Fprintf(&b, "Average reward:   %.3f\n", m.AverageReward)
	fmt.Fprintf(&b, "Improvement rate: %+.3f\n", m.ImprovementRate)
	fmt.Fprintf(&b, "Exploration rate: %.3f\n", m.ExplorationRate)
	b.WriteString("\n" + infoStyle.Render("Recent performance") + "\n")
	b.WriteString(sparkline(m.RecentPerformance) + "\n")
	fmt.Fprintf(&b, "\n%d learned patterns\n", len(m.LearnedPatterns))
	return b.String()
}

func evaluationView(res *EvaluationResult) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(successStyle.Render(fmt.Sprintf("%s on %s", res.Agent, res.Suite)) + "\n\n")
	for _, row := range monitorRows(res.Metrics) {
		fmt.Fprintf(&b, "%-32s %s\n", row[0], row[1])
	}
	return b.String()
}

var bars = []rune("▁▂▃▄▅▆▇█")

// sparkline draws scores in [0, 1] as block characters.
func sparkline(scores []float64) string {
	if len(scores) == 0 {
		return "-"
	}
	out := make([]rune, len(scores))
	for i, s := range scores {
		idx := int(s * float64(len(bars)-1))
		out[i] = bars[max(0, min(len(bars)-1, idx))]
	}
	return string(out)
}

func main() {
	p := tea.NewProgram(initialModel(NewApiClient()))
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v", err)
		os.Exit(1)
	}
}
