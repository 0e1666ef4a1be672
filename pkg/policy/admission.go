// Package policy evaluates operator-supplied Rego rules that can veto
// candidate facts after PII validation. A policy looks like:
//
//	package memory.admission
//
//	deny contains "no health data" if {
//		input.fact.subject in {"diagnosis", "medication"}
//	}
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/m-mizutani/memento/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

const admissionQuery = "data.memory.admission.deny"

type printHook struct{}

func (h *printHook) Print(ctx print.Context, message string) error {
	logging.Default().Debug("rego print", "message", message)
	return nil
}

// Admission holds the prepared admission query. The zero value and nil admit everything.
type Admission struct {
	query *rego.PreparedEvalQuery
	files []string
}

// LoadAdmission reads every .rego file in dir. An empty dir argument or a
// directory without policy files gives an Admission that admits everything.
func LoadAdmission(ctx context.Context, dir string) (*Admission, error) {
	if dir == "" {
		return &Admission{}, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		if _, err := os.Stat(dir); err != nil {
			return nil, goerr.Wrap(err, "policy directory is not readable", goerr.V("dir", dir))
		}
		return &Admission{}, nil
	}
	sort.Strings(files)

	options := []func(*rego.Rego){rego.Query(admissionQuery)}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare admission query", goerr.V("dir", dir))
	}

	return &Admission{query: &prepared, files: files}, nil
}

// Files returns the loaded policy files
func (a *Admission) Files() []string {
	if a == nil {
		return nil
	}
	return a.files
}

// Deny returns the reasons the policy gives for rejecting fact. No reasons
// means the fact is admitted.
func (a *Admission) Deny(ctx context.Context, userID model.UserID, fact model.Fact) ([]string, error) {
	if a == nil || a.query == nil {
		return nil, nil
	}

	input := map[string]any{
		"user_id": string(userID),
		"fact": map[string]any{
			"type":       string(fact.Type),
			"subject":    fact.Subject,
			"value":      fact.Value,
			"sentiment":  string(fact.Sentiment),
			"confidence": fact.Confidence,
			"op":         string(fact.Op),
		},
	}

	rs, err := a.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&printHook{}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate admission policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	values, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, goerr.New("invalid admission result: deny is not a set",
			goerr.V("type", fmt.Sprintf("%T", rs[0].Expressions[0].Value)))
	}

	reasons := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			reasons = append(reasons, s)
		} else {
			reasons = append(reasons, fmt.Sprint(v))
		}
	}
	sort.Strings(reasons)
	return reasons, nil
}
