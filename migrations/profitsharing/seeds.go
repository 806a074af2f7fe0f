package profitsharing

import (
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var seedFS embed.FS

// ProfitCode is one PROFIT_CODE row before and after the restructure.
type ProfitCode struct {
	LegacyCode       *int   `yaml:"legacy_code"`
	ID               int    `yaml:"id"`
	LegacyDefinition string `yaml:"legacy_definition"`
	LegacyFrequency  string `yaml:"legacy_frequency"`
	Name             string `yaml:"name"`
	Frequency        string `yaml:"frequency"`
}

// Country is one COUNTRY row.
type Country struct {
	ISO  string `yaml:"iso"`
	Name string `yaml:"name"`
}

// Seeds holds the lookup data both migrations write.
type Seeds struct {
	ProfitCodes      []ProfitCode `yaml:"profit_codes"`
	LegacyCountries  []Country    `yaml:"legacy"`
	ISOCountries     []Country    `yaml:"iso"`
	legacyCountryISO map[string]bool
}

// LoadSeeds decodes the embedded seed files.
func LoadSeeds() (*Seeds, error) {
	s := &Seeds{}
	for _, name := range []string{"data/profit_codes.yaml", "data/countries.yaml"} {
		raw, err := seedFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := yaml.Unmarshal(raw, s); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", name, err)
		}
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Seeds) validate() error {
	ids := make(map[int]bool)
	codes := make(map[int]bool)
	for _, pc := range s.ProfitCodes {
		if ids[pc.ID] {
			return fmt.Errorf("profit code id %d listed twice", pc.ID)
		}
		ids[pc.ID] = true
		if pc.Name == "" || pc.Frequency == "" {
			return fmt.Errorf("profit code id %d needs a name and frequency", pc.ID)
		}
		if pc.LegacyCode != nil {
			if codes[*pc.LegacyCode] {
				return fmt.Errorf("legacy profit code %d listed twice", *pc.LegacyCode)
			}
			codes[*pc.LegacyCode] = true
			if pc.LegacyDefinition == "" {
				return fmt.Errorf("legacy profit code %d needs a definition", *pc.LegacyCode)
			}
		}
	}

	iso := make(map[string]bool, len(s.ISOCountries))
	for _, c := range s.ISOCountries {
		if len(c.ISO) != 2 || iso[c.ISO] {
			return fmt.Errorf("bad or repeated ISO code %q", c.ISO)
		}
		iso[c.ISO] = true
	}
	s.legacyCountryISO = make(map[string]bool, len(s.LegacyCountries))
	for _, c := range s.LegacyCountries {
		if !iso[c.ISO] {
			return fmt.Errorf("legacy country %s is not an ISO 3166-1 code", c.ISO)
		}
		s.legacyCountryISO[c.ISO] = true
	}
	return nil
}

// LegacyProfitCodes returns the codes present in the baseline, by code.
func (s *Seeds) LegacyProfitCodes() []ProfitCode {
	var out []ProfitCode
	for _, pc := range s.ProfitCodes {
		if pc.LegacyCode != nil {
			out = append(out, pc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].LegacyCode < *out[j].LegacyCode })
	return out
}

// InsertedProfitCodes returns the codes the restructure adds.
func (s *Seeds) InsertedProfitCodes() []ProfitCode {
	var out []ProfitCode
	for _, pc := range s.ProfitCodes {
		if pc.LegacyCode == nil {
			out = append(out, pc)
		}
	}
	return out
}

// ISOName returns the ISO short name for code.
func (s *Seeds) ISOName(code string) string {
	for _, c := range s.ISOCountries {
		if c.ISO == code {
			return c.Name
		}
	}
	return ""
}

// InsertedCountries returns the ISO countries missing from the baseline.
func (s *Seeds) InsertedCountries() []Country {
	var out []Country
	for _, c := range s.ISOCountries {
		if !s.legacyCountryISO[c.ISO] {
			out = append(out, c)
		}
	}
	return out
}

// Mapping returns the profit-code mapping the seeds describe.
func (s *Seeds) Mapping() *Mapping {
	m := &Mapping{toID: map[int]int{}, toCode: map[int]int{}}
	for _, pc := range s.ProfitCodes {
		if pc.LegacyCode == nil {
			m.inserted = append(m.inserted, pc.ID)
			continue
		}
		m.toID[*pc.LegacyCode] = pc.ID
		m.toCode[pc.ID] = *pc.LegacyCode
	}
	sort.Ints(m.inserted)
	return m
}
