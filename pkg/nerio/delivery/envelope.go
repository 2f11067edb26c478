// Package delivery turns command outcomes into wire envelopes and pushes
// them to the orchestrator with bounded retry. Delivery is at-least-once:
// the orchestrator deduplicates by commandSyncId.
package delivery

import (
	"fmt"

	"github.com/nerio-dev/nerio/pkg/nerio/engine"
)

// DataType selects the envelope payload variant.
type DataType string

const (
	DataText  DataType = "Text"
	DataGraph DataType = "Graph"
)

// TextType classifies a free-text payload for client-side rendering.
type TextType string

const (
	TextPlain    TextType = "Plain"
	TextJSON     TextType = "Json"
	TextMarkdown TextType = "Markdown"
	TextBase64   TextType = "Base64"
	TextHTML     TextType = "Html"
)

// TextResult is the text payload variant.
type TextResult struct {
	Response string   `json:"response"`
	TextType TextType `json:"textType"`
}

// GraphResult is the structured chart payload variant.
type GraphResult struct {
	Message string   `json:"message"`
	Note    string   `json:"note"`
	XAxis   string   `json:"xAxis"`
	YAxis   string   `json:"yAxis"`
	Data    string   `json:"data"`
	Units   []string `json:"units"`
}

// Envelope is the outbound result frame. Exactly one of TextResult or
// GraphResult is set, keyed by DataType.
type Envelope struct {
	CommandSyncID string       `json:"commandSyncId"`
	CommandName   string       `json:"commandName"`
	DataType      DataType     `json:"dataType"`
	IsSuccess     bool         `json:"isSuccess"`
	TextResult    *TextResult  `json:"textResult,omitempty"`
	GraphResult   *GraphResult `json:"graphResult,omitempty"`
}

// buildEnvelope maps an outcome onto the wire shape. Graph outcomes always
// use the graph variant regardless of text heuristics.
func buildEnvelope(syncID string, outcome *engine.Outcome) (*Envelope, error) {
	if outcome == nil {
		return nil, fmt.Errorf("nil command outcome")
	}

	env := &Envelope{
		CommandSyncID: syncID,
		CommandName:   outcome.CommandName,
		IsSuccess:     outcome.IsSuccess,
	}

	switch outcome.Kind {
	case engine.ResultGraph:
		if outcome.Graph == nil {
			return nil, fmt.Errorf("graph outcome without graph payload")
		}
		env.DataType = DataGraph
		env.GraphResult = &GraphResult{
			Message: outcome.Graph.Message,
			Note:    outcome.Graph.Note,
			XAxis:   outcome.Graph.XAxis,
			YAxis:   outcome.Graph.YAxis,
			Data:    outcome.Graph.Data,
			Units:   outcome.Graph.Units,
		}

	default:
		env.DataType = DataText
		env.TextResult = &TextResult{
			Response: outcome.Text,
			TextType: ClassifyText(outcome.Text),
		}
	}

	return env, nil
}

// failureEnvelope is the best-effort plain-text envelope emitted when
// envelope construction itself fails; the orchestrator always gets an
// answer for its correlation id.
func failureEnvelope(syncID, commandName string) *Envelope {
	return &Envelope{
		CommandSyncID: syncID,
		CommandName:   commandName,
		DataType:      DataText,
		IsSuccess:     false,
		TextResult: &TextResult{
			Response: "Error while creating result message. See agent logs for details.",
			TextType: TextPlain,
		},
	}
}
