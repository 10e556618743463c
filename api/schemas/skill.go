package schemas

// -- Skill Specification Schemas --

// Action identifies the kind of work a single Step performs.
type Action string

const (
	ActionGoto            Action = "goto"
	ActionClick           Action = "click"
	ActionFill            Action = "fill"
	ActionFillIfVisible   Action = "fill_if_visible"
	ActionFillDate        Action = "fill_date"
	ActionSelectOption    Action = "select_option"
	ActionSelect2         Action = "select2"
	ActionSelect2Tax      Action = "select2_tax"
	ActionWait            Action = "wait"
	ActionWaitForURL      Action = "wait_for_url"
	ActionEvaluate        Action = "evaluate"
	ActionCheckValidation Action = "check_validation"
	ActionScreenshot      Action = "screenshot"
	ActionHandleCookies   Action = "handle_cookies"
	// ActionForeach is reserved. It survives normalization but is never executed.
	ActionForeach Action = "foreach"
)

// supportedActions is the closed set of actions a normalized step may carry.
var supportedActions = map[Action]struct{}{
	ActionGoto:            {},
	ActionClick:           {},
	ActionFill:            {},
	ActionFillIfVisible:   {},
	ActionFillDate:        {},
	ActionSelectOption:    {},
	ActionSelect2:         {},
	ActionSelect2Tax:      {},
	ActionWait:            {},
	ActionWaitForURL:      {},
	ActionEvaluate:        {},
	ActionCheckValidation: {},
	ActionScreenshot:      {},
	ActionHandleCookies:   {},
	ActionForeach:         {},
}

// Supported reports whether the action belongs to the executable action set.
func (a Action) Supported() bool {
	_, ok := supportedActions[a]
	return ok
}

// SupportedActions returns the supported action names. Order is not significant.
func SupportedActions() []Action {
	out := make([]Action, 0, len(supportedActions))
	for a := range supportedActions {
		out = append(out, a)
	}
	return out
}

// Step is one atomic action in a skill. Which fields are meaningful depends on Action.
type Step struct {
	Action   Action `json:"action" yaml:"action"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
	// Timeout is in milliseconds. Nil means the action's default applies.
	Timeout *int `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Composite widget sub-selectors (select2).
	Search string `json:"search,omitempty" yaml:"search,omitempty"`
	Result string `json:"result,omitempty" yaml:"result,omitempty"`

	// StoreAs names the extracted_data key for an evaluate step.
	StoreAs string `json:"store_as,omitempty" yaml:"store_as,omitempty"`

	// Reserved for foreach.
	Items        string `json:"items,omitempty" yaml:"items,omitempty"`
	Skill        string `json:"skill,omitempty" yaml:"skill,omitempty"`
	Optional     *bool  `json:"optional,omitempty" yaml:"optional,omitempty"`
	SkipIfExists *bool  `json:"skip_if_exists,omitempty" yaml:"skip_if_exists,omitempty"`
}

// TimeoutOr returns the step timeout in milliseconds, or def when none was given.
func (s Step) TimeoutOr(def int) int {
	if s.Timeout == nil {
		return def
	}
	return *s.Timeout
}

// SlotProperty describes one named input slot.
type SlotProperty struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// SlotsSchema is the JSON-Schema-shaped description of a skill's input slots.
// The keys of Properties are the only names valid inside {{...}} placeholders.
type SlotsSchema struct {
	Type       string                  `json:"type" yaml:"type"`
	Required   []string                `json:"required,omitempty" yaml:"required,omitempty"`
	Properties map[string]SlotProperty `json:"properties" yaml:"properties"`
}

// Declares reports whether name is a declared slot.
func (s SlotsSchema) Declares(name string) bool {
	_, ok := s.Properties[name]
	return ok
}

// SkillSpecification is the declarative, versioned automation script the engine executes.
type SkillSpecification struct {
	ID          string      `json:"id" yaml:"id"`
	Version     int         `json:"version" yaml:"version"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description" yaml:"description"`
	BaseURL     string      `json:"base_url" yaml:"base_url"`
	Steps       []Step      `json:"steps" yaml:"steps"`
	SlotsSchema SlotsSchema `json:"slots_schema" yaml:"slots_schema"`
}
