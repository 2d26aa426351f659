// Package llm is the boundary to the Gemini models: cluster labeling,
// semantic grouping and embedding generation. Structured responses are
// decoded strictly; anything that does not match the declared shape is
// rejected with ErrInvalidResponse.
package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/genai"
)

// ErrInvalidResponse marks a model response that does not match its schema.
var ErrInvalidResponse = errors.New("invalid LLM response")

// ClusterLabel is the labeling response.
type ClusterLabel struct {
	Label   string `json:"label"`
	Summary string `json:"summary"`
}

// ClusterBrief is what the grouper sees of one cluster.
type ClusterBrief struct {
	ID      int64  `json:"id"`
	Label   string `json:"label"`
	Summary string `json:"summary"`
	Size    int    `json:"size"`
}

// ProposedGroup is one group of a grouping response.
type ProposedGroup struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ClusterIDs  []int64 `json:"cluster_ids"`
}

// Grouping is the grouping response, groups in model output order.
type Grouping struct {
	Groups []ProposedGroup `json:"groups"`
}

const labelSystemInstruction = `You name clusters of customer feedback. You receive the texts closest to the center of one cluster. Reply with a short label of 2-3 words and a single-sentence summary of what the texts have in common.`

const groupingSystemInstruction = `You organise labeled clusters of customer feedback into broader themes. Every cluster id must appear in exactly one group. Use only the cluster ids you are given.`

func labelSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"label": {
				Type:        genai.TypeString,
				Description: "Short 2-3 word label for the cluster",
			},
			"summary": {
				Type:        genai.TypeString,
				Description: "One sentence describing the shared theme",
			},
		},
		Required:         []string{"label", "summary"},
		PropertyOrdering: []string{"label", "summary"},
	}
}

func groupingSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"groups": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name":        {Type: genai.TypeString, Description: "Theme name"},
						"description": {Type: genai.TypeString, Description: "One sentence describing the theme"},
						"cluster_ids": {
							Type:  genai.TypeArray,
							Items: &genai.Schema{Type: genai.TypeInteger},
						},
					},
					Required:         []string{"name", "description", "cluster_ids"},
					PropertyOrdering: []string{"name", "description", "cluster_ids"},
				},
			},
		},
		Required: []string{"groups"},
	}
}

// BuildLabelPrompt renders the numbered item texts of one cluster.
func BuildLabelPrompt(texts []string) string {
	var b strings.Builder
	b.WriteString("Texts closest to the cluster center:\n\n")
	for i, t := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(t))
	}
	b.WriteString("\nReturn JSON with \"label\" (2-3 words) and \"summary\" (one sentence).")
	return b.String()
}

// BuildGroupingPrompt renders the cluster list for the grouper.
func BuildGroupingPrompt(briefs []ClusterBrief, minGroups, maxGroups int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Organise these %d clusters into %d-%d thematic groups.\n\n", len(briefs), minGroups, maxGroups)
	for _, c := range briefs {
		fmt.Fprintf(&b, "Cluster %d: %s (%d items)\n  %s\n", c.ID, c.Label, c.Size, c.Summary)
	}
	b.WriteString("\nReturn JSON with \"groups\": a list of objects with \"name\", \"description\" (one sentence) and \"cluster_ids\" (integers). Each cluster id belongs to exactly one group.")
	return b.String()
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// decodeStrict decodes exactly one JSON value into v, rejecting unknown fields.
func decodeStrict(text string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(stripFences(text))))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data after JSON value", ErrInvalidResponse)
	}
	return nil
}

func required(field string, value *string) (string, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return "", fmt.Errorf("%w: missing or blank %q", ErrInvalidResponse, field)
	}
	return strings.TrimSpace(*value), nil
}

// DecodeClusterLabel validates a labeling response.
func DecodeClusterLabel(text string) (ClusterLabel, error) {
	var raw struct {
		Label   *string `json:"label"`
		Summary *string `json:"summary"`
	}
	if err := decodeStrict(text, &raw); err != nil {
		return ClusterLabel{}, err
	}
	label, err := required("label", raw.Label)
	if err != nil {
		return ClusterLabel{}, err
	}
	summary, err := required("summary", raw.Summary)
	if err != nil {
		return ClusterLabel{}, err
	}
	return ClusterLabel{Label: label, Summary: summary}, nil
}

// DecodeGrouping validates a grouping response. Duplicate or missing cluster
// ids are not errors here; the grouping package repairs them.
func DecodeGrouping(text string) (Grouping, error) {
	var raw struct {
		Groups *[]struct {
			Name        *string  `json:"name"`
			Description *string  `json:"description"`
			ClusterIDs  *[]int64 `json:"cluster_ids"`
		} `json:"groups"`
	}
	if err := decodeStrict(text, &raw); err != nil {
		return Grouping{}, err
	}
	if raw.Groups == nil {
		return Grouping{}, fmt.Errorf("%w: missing \"groups\"", ErrInvalidResponse)
	}

	grouping := Grouping{Groups: make([]ProposedGroup, 0, len(*raw.Groups))}
	for i, g := range *raw.Groups {
		name, err := required("name", g.Name)
		if err != nil {
			return Grouping{}, fmt.Errorf("group %d: %w", i, err)
		}
		description, err := required("description", g.Description)
		if err != nil {
			return Grouping{}, fmt.Errorf("group %d: %w", i, err)
		}
		if g.ClusterIDs == nil {
			return Grouping{}, fmt.Errorf("group %d: %w: missing \"cluster_ids\"", i, ErrInvalidResponse)
		}
		grouping.Groups = append(grouping.Groups, ProposedGroup{
			Name:        name,
			Description: description,
			ClusterIDs:  append([]int64(nil), *g.ClusterIDs...),
		})
	}
	return grouping, nil
}
