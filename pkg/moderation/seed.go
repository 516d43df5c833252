package moderation

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

// Seed is the content of a services seed file:
//
//	services:
//	  - value: ozone
//	    label: Ozone
//	  - value: blacksky
//	    label: Blacksky
//	    admin_did: did:plc:abc123
//	report_options:
//	  - id: spam
//	    title: Spam
//	    reason: com.atproto.moderation.defs#reasonSpam
type Seed struct {
	Services      []Service      `yaml:"services"`
	ReportOptions []ReportOption `yaml:"report_options"`
}

// LoadSeed reads and validates a seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks required fields and duplicate keys
func (s *Seed) Validate() error {
	values := make(map[string]bool)
	for i, svc := range s.Services {
		if svc.Value == "" || svc.Label == "" {
			return fmt.Errorf("services[%d]: value and label are required", i)
		}
		if values[svc.Value] {
			return fmt.Errorf("services[%d]: duplicate value %q", i, svc.Value)
		}
		values[svc.Value] = true
	}

	ids := make(map[string]bool)
	for i, opt := range s.ReportOptions {
		if opt.ID == "" || opt.Title == "" || opt.Reason == "" {
			return fmt.Errorf("report_options[%d]: id, title and reason are required", i)
		}
		if ids[opt.ID] {
			return fmt.Errorf("report_options[%d]: duplicate id %q", i, opt.ID)
		}
		ids[opt.ID] = true
	}
	return nil
}

// ReportOptionWriter persists report options. *Store implements it.
type ReportOptionWriter interface {
	UpsertReportOption(ctx context.Context, opt ReportOption) error
}

// ApplySeed upserts every seeded row. Services go through the registry so
// its cache is invalidated.
func ApplySeed(ctx context.Context, seed *Seed, registry *Registry, options ReportOptionWriter, logger *observability.Logger) error {
	for _, svc := range seed.Services {
		if err := registry.Save(ctx, svc); err != nil {
			return fmt.Errorf("failed to seed service %s: %w", svc.Value, err)
		}
	}
	for i, opt := range seed.ReportOptions {
		if opt.Position == 0 {
			opt.Position = i + 1
		}
		if err := options.UpsertReportOption(ctx, opt); err != nil {
			return fmt.Errorf("failed to seed report option %s: %w", opt.ID, err)
		}
	}

	logger.WithFields(map[string]interface{}{
		"services":       len(seed.Services),
		"report_options": len(seed.ReportOptions),
	}).Info("moderation seed applied")
	return nil
}

// EnsureUniversal registers the universal service when it is missing
func EnsureUniversal(ctx context.Context, registry *Registry, value string) error {
	_, found, err := registry.Lookup(ctx, value)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	return registry.Save(ctx, Service{Value: value, Label: value})
}
