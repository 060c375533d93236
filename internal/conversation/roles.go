package conversation

import "fmt"

// Role decides how an agent's stream output is displayed.
type Role int

const (
	// RoleWorker output goes to the message timeline.
	RoleWorker Role = iota
	// RoleResearcher is a worker whose frames may carry source counts.
	RoleResearcher
	// RolePlanner text streams into the primary ai bubble.
	RolePlanner
	// RoleComposer text is suppressed; its final report becomes a new message.
	RoleComposer
)

func (r Role) String() string {
	switch r {
	case RoleResearcher:
		return "researcher"
	case RolePlanner:
		return "planner"
	case RoleComposer:
		return "composer"
	default:
		return "worker"
	}
}

type strategy int

const (
	appendTimeline strategy = iota
	updatePrimary
	suppressText
)

var roleStrategy = map[Role]strategy{
	RoleWorker:     appendTimeline,
	RoleResearcher: appendTimeline,
	RolePlanner:    updatePrimary,
	RoleComposer:   suppressText,
}

const (
	AgentInteractivePlanner = "interactive_planner_agent"
	AgentReportComposer     = "report_composer_with_citations"
)

type agentEntry struct {
	role  Role
	title string
}

var agentTable = map[string]agentEntry{
	"plan_generator":            {RoleWorker, "Planning Research Strategy"},
	"section_planner":           {RoleWorker, "Structuring Report Outline"},
	"section_researcher":        {RoleResearcher, "Initial Web Research"},
	"research_evaluator":        {RoleWorker, "Evaluating Research Quality"},
	"EscalationChecker":         {RoleWorker, "Quality Assessment"},
	"enhanced_search_executor":  {RoleResearcher, "Enhanced Web Research"},
	"research_pipeline":         {RoleWorker, "Executing Research Pipeline"},
	"iterative_refinement_loop": {RoleWorker, "Refining Research"},
	AgentInteractivePlanner:     {RolePlanner, "Interactive Planning"},
	"root_agent":                {RoleWorker, "Interactive Planning"},
	AgentReportComposer:         {RoleComposer, "Composing Final Report"},
}

// RoleOf reports the display role of an agent; unknown agents are workers.
func RoleOf(agent string) Role {
	if entry, ok := agentTable[agent]; ok {
		return entry.role
	}
	return RoleWorker
}

// TitleFor returns the human-readable timeline title for an agent.
func TitleFor(agent string) string {
	if entry, ok := agentTable[agent]; ok {
		return entry.title
	}
	if agent == "" {
		agent = "Unknown Agent"
	}
	return fmt.Sprintf("Processing (%s)", agent)
}
