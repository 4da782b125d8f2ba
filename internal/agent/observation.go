package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/normanking/fairy/internal/capability"
	"github.com/normanking/fairy/internal/directive"
)

// ExecutionRecord pairs a directive with the result of dispatching it.
type ExecutionRecord struct {
	Directive directive.Directive `json:"directive"`
	Result    capability.Result   `json:"result"`
}

// Observation summarizes one dispatch round over a block of model text.
type Observation struct {
	Records      []ExecutionRecord
	Found        int
	Executed     int
	Observations []string
	CleanText    string
}

// Collect parses text, dispatches every directive in document order and
// aggregates the results. Directives run one after another: automation side
// effects depend on order (typing follows a launch).
func Collect(ctx context.Context, d capability.Dispatcher, text string) Observation {
	directives, clean := directive.Parse(text)

	records := make([]ExecutionRecord, 0, len(directives))
	for _, dir := range directives {
		records = append(records, ExecutionRecord{
			Directive: dir,
			Result:    d.Dispatch(ctx, dir.CanonicalType, dir.Args),
		})
	}
	return Summarize(records, clean)
}

// Summarize projects execution records into an Observation.
func Summarize(records []ExecutionRecord, cleanText string) Observation {
	obs := Observation{
		Records:      records,
		Found:        len(records),
		Observations: make([]string, 0, len(records)),
		CleanText:    cleanText,
	}
	for _, r := range records {
		if r.Result.Success {
			obs.Executed++
		}
		obs.Observations = append(obs.Observations, r.Result.Message)
	}
	return obs
}

// Summary is the "Executed X/Y actions" line reported to the caller.
func (o Observation) Summary() string {
	return fmt.Sprintf("Executed %d/%d actions", o.Executed, o.Found)
}

// Prompt renders the observation as the user turn fed back to the model.
func (o Observation) Prompt() string {
	var sb strings.Builder
	sb.WriteString("[SYSTEM OBSERVATION]\n")
	for i, r := range o.Records {
		status := "OK"
		if !r.Result.Success {
			status = "FAILED"
		}
		fmt.Fprintf(&sb, "%d. %s (%s): %s\n", i+1, r.Directive.CanonicalType, status, o.Observations[i])
	}
	sb.WriteString("\nContinue the task using these results. ")
	sb.WriteString("If the task is complete, reply to the user without any ACTION tags.")
	return sb.String()
}
