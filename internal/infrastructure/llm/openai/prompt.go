package openai

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/cti-assistant/internal/core/domain"
)

const (
	contextPlaceholder = "{context}"
	queryPlaceholder   = "{query}"
)

// Prompts holds every prompt sent to the completion service. Pipelines maps a
// category name to the instruction of its retrieval-free pipeline.
type Prompts struct {
	Classifier   string            `yaml:"classifier"`
	Memorization string            `yaml:"memorization"`
	Pipelines    map[string]string `yaml:"pipelines"`
}

func DefaultPrompts() Prompts {
	return Prompts{
		Classifier:   defaultClassifierPrompt,
		Memorization: defaultMemorizationPrompt,
		Pipelines: map[string]string{
			string(domain.CategoryUnderstanding):  defaultUnderstandingInstruction,
			string(domain.CategoryProblemSolving): defaultProblemSolvingInstruction,
			string(domain.CategoryReasoningTAA):   defaultReasoningTAAInstruction,
			string(domain.CategoryReasoningATE):   defaultReasoningATEInstruction,
		},
	}
}

// LoadPrompts returns the defaults overlaid with the keys present in the YAML
// file at path. An empty path yields the defaults.
func LoadPrompts(path string) (Prompts, error) {
	prompts := DefaultPrompts()
	if strings.TrimSpace(path) == "" {
		return prompts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts file: %w", err)
	}
	var override Prompts
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Prompts{}, fmt.Errorf("parse prompts file %s: %w", path, err)
	}

	if strings.TrimSpace(override.Classifier) != "" {
		prompts.Classifier = override.Classifier
	}
	if strings.TrimSpace(override.Memorization) != "" {
		prompts.Memorization = override.Memorization
	}
	for name, instruction := range override.Pipelines {
		category, ok := domain.ParseCategory(name)
		if !ok || category == domain.CategoryMemorization {
			return Prompts{}, fmt.Errorf("prompts file %s: no retrieval-free pipeline named %q", path, name)
		}
		if strings.TrimSpace(instruction) == "" {
			continue
		}
		prompts.Pipelines[string(category)] = instruction
	}
	if err := prompts.validate(); err != nil {
		return Prompts{}, fmt.Errorf("prompts file %s: %w", path, err)
	}
	return prompts, nil
}

func (p Prompts) validate() error {
	if !strings.Contains(p.Memorization, contextPlaceholder) || !strings.Contains(p.Memorization, queryPlaceholder) {
		return errors.New("memorization prompt must contain {context} and {query}")
	}
	return nil
}

// Instruction returns the instruction for a retrieval-free pipeline.
func (p Prompts) Instruction(category domain.Category) string {
	return p.Pipelines[string(category)]
}

func (p Prompts) renderMemorization(query, contextText string) string {
	return strings.NewReplacer(
		contextPlaceholder, contextText,
		queryPlaceholder, query,
	).Replace(p.Memorization)
}

const defaultClassifierPrompt = `You are an expert cyber threat intelligence (CTI) assistant trained to classify CTI benchmark queries.
Categorize the input query into exactly one of the following categories based on its purpose and reasoning type.

1. memorization
   - Pure factual recall or multiple-choice tasks.
   - Usually starts with "You are given a multiple-choice question" or lists options A, B, C, D.
2. understanding
   - Conceptual comprehension, mapping or explanation, e.g. mapping a CVE to a CWE or describing its impact.
3. problem_solving
   - Computational or metric-based analysis, e.g. calculating a CVSS base score.
4. reasoning_taa
   - Threat actor attribution from a threat report or incident description.
   - Campaigns, groups, RATs or [PLACEHOLDER] tokens are strong indicators.
5. reasoning_ate
   - Attack technique extraction, mapping behaviours to MITRE ATT&CK technique IDs (T####).

Return only one label from this list:
memorization, understanding, problem_solving, reasoning_taa, reasoning_ate
No extra text, explanations or formatting.`

const defaultMemorizationPrompt = `You are a Cyber Threat Intelligence (CTI) assistant with deep technical knowledge of vulnerabilities, threat actors, malware and exploits.
Use the provided context strictly for factual reasoning.

TASK:
- Interpret the query and infer its key entities (CVE, CWE, threat actor, TTP or malware name).
- Identify relationships or mappings between them (e.g. CVE to CWE, threat actor to malware) from the context.
- Base your reasoning only on the retrieved information.
- If the context does not support the query, state clearly that the answer cannot be derived from it.

CONTEXT:
{context}

QUERY:
{query}

RESPONSE REQUIREMENTS:
- Give a concise, technical answer without generic statements.
- End with a single clear factual conclusion.

Final Answer:`

const defaultUnderstandingInstruction = `You are a CTI analyst. Explain the concepts the query asks about, such as the root cause and impact of a vulnerability or the CWE a CVE maps to. Answer concisely and end with the single most likely mapping or conclusion.`

const defaultProblemSolvingInstruction = `You are a CTI analyst. Compute the metric the query asks for, for example a CVSS v3.1 base score, by deriving every vector component from the description. Show the vector string and finish with the final value.`

const defaultReasoningTAAInstruction = `You are a CTI analyst. Attribute the threat report in the query to the most likely threat actor. Cite the indicators that support the attribution and finish with the actor name.`

const defaultReasoningATEInstruction = `You are a CTI analyst. Extract the MITRE ATT&CK Enterprise techniques described in the query. List each technique ID with a short justification and finish with the comma-separated list of IDs.`
