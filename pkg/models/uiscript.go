package models

// UIAnalysis is the vision-model view of a page that seeds the UI pipeline.
type UIAnalysis struct {
	PageURL   string      `json:"page_url"`
	PageTitle string      `json:"page_title,omitempty"`
	Elements  []UIElement `json:"elements,omitempty"`
	Flows     []string    `json:"flows,omitempty"`
}

// UIElement is one interactable element the analysis identified.
type UIElement struct {
	Name     string `json:"name"`
	Selector string `json:"selector"`
	Kind     string `json:"kind,omitempty"` // button, input, link, ...
	Text     string `json:"text,omitempty"`
}

// UIScript is the YAML-described UI test a browser run executes.
type UIScript struct {
	Name    string            `yaml:"name" json:"name"`
	BaseURL string            `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Steps   []UIStep          `yaml:"steps" json:"steps"`
}

// UIStep is a single UI action. Exactly one action field is set per step;
// the strict YAML decode rejects unknown fields.
type UIStep struct {
	Name       string `yaml:"name,omitempty" json:"name,omitempty"`
	Navigate   string `yaml:"navigate,omitempty" json:"navigate,omitempty"`
	Click      string `yaml:"click,omitempty" json:"click,omitempty"`
	Fill       string `yaml:"fill,omitempty" json:"fill,omitempty"`
	Value      string `yaml:"value,omitempty" json:"value,omitempty"`
	WaitFor    string `yaml:"wait_for,omitempty" json:"wait_for,omitempty"`
	AssertText string `yaml:"assert_text,omitempty" json:"assert_text,omitempty"`
	Selector   string `yaml:"selector,omitempty" json:"selector,omitempty"`
	Screenshot string `yaml:"screenshot,omitempty" json:"screenshot,omitempty"`
	SleepMS    int    `yaml:"sleep_ms,omitempty" json:"sleep_ms,omitempty"`
}
