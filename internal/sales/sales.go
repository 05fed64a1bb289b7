// Package sales assembles personalized sales pitches for new-client
// inquiries: relevant services are retrieved from a local catalog by keyword
// and handed to the language model as context.
package sales

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Service is one catalog entry describing an offered service.
type Service struct {
	ServiceName  string   `json:"service_name"`
	Description  string   `json:"description"`
	Keywords     []string `json:"keywords,omitempty"`
	WorkExamples []string `json:"work_examples,omitempty"`
}

// Generator produces text from a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Pitcher retrieves relevant services and generates pitches.
type Pitcher struct {
	services []Service
	gen      Generator
}

// NewPitcher loads the services catalog from the given JSON file.
func NewPitcher(catalogPath string, gen Generator) (*Pitcher, error) {
	data, err := os.ReadFile(catalogPath)
	if err != nil {
		slog.Error("Sales catalog read failed", "error", err, "path", catalogPath)
		return nil, fmt.Errorf("failed to read services catalog: %w", err)
	}
	var services []Service
	if err := json.Unmarshal(data, &services); err != nil {
		slog.Error("Sales catalog decode failed", "error", err, "path", catalogPath)
		return nil, fmt.Errorf("failed to decode services catalog: %w", err)
	}
	slog.Info("Sales catalog loaded", "services", len(services))
	return &Pitcher{services: services, gen: gen}, nil
}

// NewPitcherWithCatalog creates a pitcher over an in-memory catalog.
func NewPitcherWithCatalog(services []Service, gen Generator) *Pitcher {
	return &Pitcher{services: services, gen: gen}
}

// FindRelevant returns the catalog entries whose keywords appear in the query.
func (p *Pitcher) FindRelevant(query string) []Service {
	lower := strings.ToLower(query)
	var relevant []Service
	for _, svc := range p.services {
		for _, kw := range svc.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				relevant = append(relevant, svc)
				break
			}
		}
	}
	return relevant
}

const pitchSystemPrompt = "You are Talia, an expert and friendly sales assistant."

// Pitch generates a personalized sales pitch for the client's inquiry. When
// no keyword matches, the whole catalog is offered as context.
func (p *Pitcher) Pitch(ctx context.Context, query string, collected map[string]string) (string, error) {
	if p.gen == nil {
		return "", fmt.Errorf("no generator configured")
	}

	relevant := p.FindRelevant(query)
	var sb strings.Builder
	if len(relevant) == 0 {
		sb.WriteString("Here is an overview of our services:\n")
		for _, svc := range p.services {
			fmt.Fprintf(&sb, "- %s: %s\n", svc.ServiceName, svc.Description)
		}
	} else {
		sb.WriteString("Based on the client's needs, these services and work examples are relevant:\n")
		for _, svc := range relevant {
			fmt.Fprintf(&sb, "\nService: %s\nDescription: %s\n", svc.ServiceName, svc.Description)
			if len(svc.WorkExamples) > 0 {
				sb.WriteString("Work examples:\n")
				for _, ex := range svc.WorkExamples {
					fmt.Fprintf(&sb, "  - %s\n", ex)
				}
			}
		}
	}

	name := collected["name"]
	if name == "" {
		name = "the client"
	}
	industry := collected["industry"]
	if industry == "" {
		industry = "unspecified"
	}

	prompt := fmt.Sprintf(
		"A potential client named %s from the %q sector described their project as: %q.\n\n"+
			"Relevant information about our services:\n%s\n"+
			"Write a personalized response that shows you understood their specific need, "+
			"connects their project directly to our services using the work examples, keeps a "+
			"professional but warm tone, and ends with a clear call to action suggesting a short "+
			"call. Do not just list the services; explain how they apply to this case.",
		name, industry, query, sb.String())

	pitch, err := p.gen.Generate(ctx, pitchSystemPrompt, prompt)
	if err != nil {
		slog.Error("Sales pitch generation failed", "error", err)
		return "", fmt.Errorf("pitch generation failed: %w", err)
	}
	return pitch, nil
}
