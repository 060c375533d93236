// Package briefing models the ad brief wizard: its steps, per-field
// validation, and the text payload submitted to the agent pipeline.
package briefing

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-yaml"
)

const (
	FieldLandingPageURL = "landing_page_url"
	FieldCompanyName    = "nome_empresa"
	FieldCompanyDoes    = "o_que_a_empresa_faz"
	FieldObjective      = "objetivo_final"
	FieldFormat         = "formato_anuncio"
	FieldProfile        = "perfil_cliente"
	FieldGender         = "sexo_cliente_alvo"
	FieldFocus          = "foco"
	StepReview          = "review"
)

type Option struct {
	Value       string
	Label       string
	Description string
}

var ObjectiveOptions = []Option{
	{"agendamentos", "Agendamentos", "Marcar consultas ou reuniões"},
	{"leads", "Geração de Leads", "Capturar contatos qualificados"},
	{"vendas", "Vendas Diretas", "Converter em vendas imediatas"},
	{"contato", "Contato", "Receber mensagens e interações"},
}

var FormatOptions = []Option{
	{"Feed", "Feed", "Posts no feed principal (1:1 ou 4:5)"},
	{"Stories", "Stories", "Conteúdo vertical temporário (9:16)"},
	{"Reels", "Reels", "Vídeos curtos e envolventes (9:16)"},
}

var GenderOptions = []Option{
	{"masculino", "Masculino", "Comunicação direcionada para homens"},
	{"feminino", "Feminino", "Tom e referências voltados para mulheres"},
	{"neutro", "Neutro", "Mensagem inclusiva para todos os públicos"},
}

type Step struct {
	ID          string
	Title       string
	Description string
	Optional    bool
	Options     []Option
	validate    func(value string) string
}

// Steps are shown in this order; the last one is the review page.
var Steps = []Step{
	{
		ID:          FieldLandingPageURL,
		Title:       "Qual é a página de destino?",
		Description: "Informe a URL principal onde as pessoas devem chegar após clicarem no anúncio.",
		validate:    validateURL,
	},
	{
		ID:          FieldCompanyName,
		Title:       "Qual é o nome da empresa?",
		Description: "Informe como a marca deve ser citada nos criativos e mensagens.",
		validate: lengthRule(2, 100,
			"Informe o nome da empresa ou marca.",
			"Use ao menos 2 caracteres para o nome da empresa.",
			"O nome da empresa deve ter no máximo 100 caracteres."),
	},
	{
		ID:          FieldCompanyDoes,
		Title:       "O que a empresa oferece?",
		Description: "Descreva a proposta de valor ou principais serviços de forma objetiva.",
		validate: lengthRule(10, 200,
			"Explique brevemente o que a empresa faz.",
			"Use pelo menos 10 caracteres para descrever a empresa.",
			"Resuma a descrição em até 200 caracteres."),
	},
	{
		ID:          FieldObjective,
		Title:       "Qual é o objetivo principal?",
		Description: "Escolha o resultado desejado para medir o sucesso da campanha.",
		Options:     ObjectiveOptions,
		validate:    choiceRule(ObjectiveOptions, "Selecione um objetivo para a campanha.", "Escolha um objetivo disponível na lista."),
	},
	{
		ID:          FieldFormat,
		Title:       "Qual formato será utilizado?",
		Description: "Selecione o formato que melhor se adapta ao criativo e ao canal escolhido.",
		Options:     FormatOptions,
		validate:    choiceRule(FormatOptions, "Selecione um formato de anúncio.", "Escolha um formato válido."),
	},
	{
		ID:          FieldProfile,
		Title:       "Descreva o público ideal",
		Description: "Resuma quem é o cliente ideal, dores, desejos e comportamentos.",
		validate: lengthRule(20, 500,
			"Descreva brevemente o público do anúncio.",
			"Use pelo menos 20 caracteres para detalhar o público.",
			"Resuma o perfil em no máximo 500 caracteres."),
	},
	{
		ID:          FieldGender,
		Title:       "Existe um gênero predominante?",
		Description: "Selecione caso haja comunicação direcionada a um gênero específico (opcional).",
		Optional:    true,
		Options:     GenderOptions,
		validate: func(value string) string {
			value = strings.TrimSpace(value)
			if value == "" || hasOption(GenderOptions, value) {
				return ""
			}
			return "Escolha entre masculino, feminino ou neutro."
		},
	},
	{
		ID:          FieldFocus,
		Title:       "Algum foco específico?",
		Description: "Compartilhe diferenciais, promoções ou mensagens obrigatórias (opcional).",
		Optional:    true,
	},
	{
		ID:          StepReview,
		Title:       "Revise antes de gerar",
		Description: "Confira os dados informados e edite qualquer etapa antes de gerar os anúncios.",
	},
}

// Form holds the wizard answers keyed by field id.
type Form struct {
	LandingPageURL string `yaml:"landing_page_url" json:"landing_page_url"`
	CompanyName    string `yaml:"nome_empresa" json:"nome_empresa"`
	CompanyDoes    string `yaml:"o_que_a_empresa_faz" json:"o_que_a_empresa_faz"`
	Objective      string `yaml:"objetivo_final" json:"objetivo_final"`
	Format         string `yaml:"formato_anuncio" json:"formato_anuncio"`
	Profile        string `yaml:"perfil_cliente" json:"perfil_cliente"`
	Gender         string `yaml:"sexo_cliente_alvo" json:"sexo_cliente_alvo"`
	Focus          string `yaml:"foco" json:"foco"`
}

func (f *Form) Get(field string) string {
	if p := f.field(field); p != nil {
		return *p
	}
	return ""
}

func (f *Form) Set(field, value string) bool {
	p := f.field(field)
	if p == nil {
		return false
	}
	*p = value
	return true
}

func (f *Form) field(id string) *string {
	switch id {
	case FieldLandingPageURL:
		return &f.LandingPageURL
	case FieldCompanyName:
		return &f.CompanyName
	case FieldCompanyDoes:
		return &f.CompanyDoes
	case FieldObjective:
		return &f.Objective
	case FieldFormat:
		return &f.Format
	case FieldProfile:
		return &f.Profile
	case FieldGender:
		return &f.Gender
	case FieldFocus:
		return &f.Focus
	}
	return nil
}

// Errors maps a field id to its validation message.
type Errors map[string]string

func StepIndex(id string) int {
	for i, step := range Steps {
		if step.ID == id {
			return i
		}
	}
	return -1
}

// ValidateField returns "" when value is acceptable for field.
func ValidateField(field, value string) string {
	i := StepIndex(field)
	if i < 0 || Steps[i].validate == nil {
		return ""
	}
	return Steps[i].validate(value)
}

func ValidateForm(f Form) Errors {
	errs := Errors{}
	for _, step := range Steps {
		if step.ID == StepReview {
			continue
		}
		if msg := ValidateField(step.ID, f.Get(step.ID)); msg != "" {
			errs[step.ID] = msg
		}
	}
	return errs
}

// CanProceed reports whether the wizard may leave step index current.
func CanProceed(current int, f Form, errs Errors) bool {
	if current < 0 || current >= len(Steps) {
		return false
	}
	step := Steps[current]
	if step.ID == StepReview {
		for _, msg := range errs {
			if msg != "" {
				return false
			}
		}
		return true
	}
	if errs[step.ID] != "" {
		return false
	}
	value := f.Get(step.ID)
	if !step.Optional && strings.TrimSpace(value) == "" {
		return false
	}
	return ValidateField(step.ID, value) == ""
}

// CompletedSteps lists the valid step indexes before current.
func CompletedSteps(f Form, current int) []int {
	var done []int
	for i, step := range Steps {
		if i >= current {
			break
		}
		if step.ID == StepReview || ValidateField(step.ID, f.Get(step.ID)) == "" {
			done = append(done, i)
		}
	}
	return done
}

// FormatPayload renders the form as "field: value" lines in step order.
// Empty fields are skipped, except gender which defaults to neutro.
func FormatPayload(f Form) string {
	var lines []string
	for _, step := range Steps {
		if step.ID == StepReview {
			continue
		}
		value := strings.TrimSpace(f.Get(step.ID))
		if value == "" {
			if step.ID == FieldGender {
				lines = append(lines, FieldGender+": neutro")
			}
			continue
		}
		lines = append(lines, step.ID+": "+value)
	}
	return strings.Join(lines, "\n")
}

// ParseYAML reads a brief written as a YAML mapping of field ids.
func ParseYAML(data []byte) (Form, error) {
	var f Form
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Form{}, fmt.Errorf("parse brief: %w", err)
	}
	return f, nil
}

func LoadFile(path string) (Form, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Form{}, fmt.Errorf("read brief: %w", err)
	}
	return ParseYAML(data)
}

func validateURL(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "Informe a URL da página de destino."
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" {
		return "Digite uma URL válida, incluindo http(s)://"
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "Utilize URLs iniciadas com http:// ou https://"
	}
	if parsed.Host == "" {
		return "Digite uma URL válida, incluindo http(s)://"
	}
	return ""
}

func lengthRule(min, max int, empty, short, long string) func(string) string {
	return func(value string) string {
		value = strings.TrimSpace(value)
		n := utf8.RuneCountInString(value)
		switch {
		case n == 0:
			return empty
		case n < min:
			return short
		case n > max:
			return long
		}
		return ""
	}
}

func choiceRule(options []Option, empty, invalid string) func(string) string {
	return func(value string) string {
		if strings.TrimSpace(value) == "" {
			return empty
		}
		if !hasOption(options, value) {
			return invalid
		}
		return ""
	}
}

func hasOption(options []Option, value string) bool {
	for _, opt := range options {
		if opt.Value == value {
			return true
		}
	}
	return false
}
