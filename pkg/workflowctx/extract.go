package workflowctx

import (
	"regexp"
	"strings"
	"time"

	"bioai-workspace-be/internal/entity"
)

const (
	EntityPdbID   = "pdb_id"
	EntityProtein = "protein"
)

var pdbIDPattern = regexp.MustCompile(`\b[1-9][A-Z0-9]{3}\b`)

var knownProteins = []string{
	"hemoglobin", "insulin", "lysozyme", "myoglobin", "cytochrome c",
	"collagen", "albumin", "immunoglobulin", "antibody", "ferritin",
	"catalase", "pepsin", "chymotrypsin", "trypsin", "ribonuclease",
	"carbonic anhydrase", "alcohol dehydrogenase", "lactate dehydrogenase",
	"pyruvate kinase", "glyceraldehyde phosphate dehydrogenase", "aldolase",
	"phosphoglycerate kinase", "enolase", "pyruvate dehydrogenase",
	"citrate synthase", "isocitrate dehydrogenase", "succinate dehydrogenase",
	"fumarase", "malate dehydrogenase", "glucose oxidase", "peroxidase",
	"superoxide dismutase", "glutathione peroxidase", "thioredoxin",
	"calmodulin", "actin", "myosin", "tubulin", "keratin",
}

var analysisKeywords = []string{
	"analyze", "analysis", "binding", "active site",
	"secondary structure", "hydrogen bonds", "molecular weight",
	"properties", "sequence", "cavity", "hydrophobic", "structure",
}

// Extraction is what a message mentions.
type Extraction struct {
	PdbIDs   []string
	Proteins []string
	Keywords []string
}

// Extract finds PDB ids, known protein names and analysis keywords. Purely
// numeric four character tokens are skipped since they are almost always
// years or counts.
func Extract(text string) Extraction {
	var out Extraction
	seen := make(map[string]bool)
	for _, id := range pdbIDPattern.FindAllString(text, -1) {
		if seen[id] || isDigits(id) {
			continue
		}
		seen[id] = true
		out.PdbIDs = append(out.PdbIDs, id)
	}

	lower := strings.ToLower(text)
	for _, p := range knownProteins {
		if containsWord(lower, p) {
			out.Proteins = append(out.Proteins, p)
		}
	}
	for _, kw := range analysisKeywords {
		if strings.Contains(lower, kw) {
			out.Keywords = append(out.Keywords, kw)
		}
	}
	return out
}

// apply records the mentions in memory and moves topics to the recent end.
func (e Extraction) apply(mem *entity.ConversationMemory, at time.Time) {
	if mem.Entities == nil {
		mem.Entities = make(map[string]*entity.EntityMention)
	}
	mention := func(kind, value string) {
		key := kind + ":" + value
		m, ok := mem.Entities[key]
		if !ok {
			m = &entity.EntityMention{Kind: kind, Value: value}
			mem.Entities[key] = m
		}
		m.Mentions++
		m.LastMentioned = at
	}
	for _, id := range e.PdbIDs {
		mention(EntityPdbID, id)
	}
	for _, p := range e.Proteins {
		mention(EntityProtein, p)
	}

	topics := append(append([]string{}, e.Proteins...), e.Keywords...)
	for _, topic := range topics {
		for i, existing := range mem.Topics {
			if existing == topic {
				mem.Topics = append(mem.Topics[:i], mem.Topics[i+1:]...)
				break
			}
		}
		mem.Topics = append(mem.Topics, topic)
	}
	if n := len(mem.Topics); n > entity.MaxTopics {
		mem.Topics = append([]string(nil), mem.Topics[n-entity.MaxTopics:]...)
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// containsWord reports whether phrase, or its plural, appears in text on word
// boundaries, so "actin" does not match inside "interacting".
func containsWord(text, phrase string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		before := i == 0 || !isLetter(text[i-1])
		if end < len(text) && text[end] == 's' {
			end++
		}
		after := end == len(text) || !isLetter(text[end])
		if before && after {
			return true
		}
		start = i + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}
