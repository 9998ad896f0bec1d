package validator

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sandinak/sudosh/internal/cmdparse"
	"github.com/sandinak/sudosh/internal/policy"
	"github.com/sandinak/sudosh/internal/sudoctx"
)

// Context supplies the caller-specific facts the validator needs:
// home directory for redirect containment, group membership for the
// conditionally-blocked interpreter exception, and the policy
// resolver for final consultation.
type Context struct {
	User        string
	Host        string
	RunasUser   string
	HomeDir     string
	ShellsGroup string
	IsMember    func(user, group string) (bool, error)
	Policy      *policy.Resolver
}

// Decision is the outcome of validating one Pipeline.
type Decision struct {
	Allow        bool
	RequiresAuth bool
	Reason       string
}

// Validate runs every check spec.md §4.5 describes, in order, over
// pipeline. It returns a *sudoctx.Error with Kind E_VALIDATE or
// E_POLICY on rejection.
func Validate(pipeline *cmdparse.Pipeline, ctx Context) (*Decision, error) {
	if len(pipeline.Stages) == 0 {
		return nil, sudoctx.NewError(sudoctx.ErrValidate, "empty pipeline", nil)
	}

	if err := checkPipelineWhitelist(pipeline); err != nil {
		return nil, err
	}

	last := pipeline.Stages[len(pipeline.Stages)-1]
	if last.Redirect.Kind != cmdparse.RedirectNone {
		ok, reason := ContainmentCheck(last.Redirect.Path, ctx.HomeDir)
		if !ok {
			return nil, sudoctx.NewError(sudoctx.ErrValidate, reason, nil)
		}
	}

	for _, stage := range pipeline.Stages {
		if err := checkStageAllowed(stage, ctx); err != nil {
			return nil, err
		}
	}

	finalArgv := pipeline.Stages[len(pipeline.Stages)-1].Argv
	result := ctx.Policy.Check(ctx.User, ctx.Host, ctx.RunasUser, finalArgv)
	if result.Decision != policy.Allow {
		return nil, sudoctx.NewError(sudoctx.ErrPolicy, fmt.Sprintf("no rule permits %s for %s", finalArgv[0], ctx.User), nil)
	}

	return &Decision{Allow: true, RequiresAuth: result.RequiresAuth}, nil
}

// checkPipelineWhitelist enforces spec.md §4.5/§8 property 2: every
// non-terminal stage's argv[0] basename must be Always-safe.
func checkPipelineWhitelist(pipeline *cmdparse.Pipeline) error {
	for i, stage := range pipeline.Stages {
		if i == len(pipeline.Stages)-1 {
			continue
		}
		if len(stage.Argv) == 0 {
			return sudoctx.NewError(sudoctx.ErrValidate, "empty pipeline stage", nil)
		}
		if Classify(stage.Argv[0]) != AlwaysSafe {
			return sudoctx.NewError(sudoctx.ErrValidate,
				fmt.Sprintf("non-terminal pipeline stage %q is not in the always-safe set", Basename(stage.Argv[0])), nil)
		}
	}
	return nil
}

// checkStageAllowed applies classification, interpreter gating, and
// the always-blocked set to one stage.
func checkStageAllowed(stage cmdparse.Command, ctx Context) error {
	if len(stage.Argv) == 0 {
		return sudoctx.NewError(sudoctx.ErrValidate, "empty command", nil)
	}
	switch Classify(stage.Argv[0]) {
	case AlwaysBlocked:
		return sudoctx.NewError(sudoctx.ErrValidate,
			fmt.Sprintf("%q is always blocked", Basename(stage.Argv[0])), nil)
	case ConditionallyBlocked:
		allowed, err := conditionallyAllowed(stage.Argv[0], ctx)
		if err != nil {
			return err
		}
		if !allowed {
			return sudoctx.NewError(sudoctx.ErrValidate,
				fmt.Sprintf("%q requires an explicit policy entry or %s membership", Basename(stage.Argv[0]), ctx.ShellsGroup), nil)
		}
	}
	return nil
}

// conditionallyAllowed implements spec.md §4.5: a conditionally
// blocked shell/interpreter is permitted only if the policy
// explicitly lists its path, or the caller belongs to the
// distinguished "<prog>-shells" group. An "ALL" command entry does not
// count as listing it; only the first rule that matches is examined.
func conditionallyAllowed(argv0 string, ctx Context) (bool, error) {
	if ctx.IsMember != nil && ctx.ShellsGroup != "" {
		member, err := ctx.IsMember(ctx.User, ctx.ShellsGroup)
		if err == nil && member {
			return true, nil
		}
	}
	if ctx.Policy == nil {
		return false, nil
	}
	result := ctx.Policy.Check(ctx.User, ctx.Host, ctx.RunasUser, []string{argv0})
	if result.Decision != policy.Allow || result.MatchedRule == nil {
		return false, nil
	}
	for _, entry := range result.MatchedRule.Commands {
		fields := strings.Fields(entry)
		if len(fields) == 0 || fields[0] == "ALL" {
			continue
		}
		if ok, err := filepath.Match(fields[0], argv0); err == nil && ok {
			return true, nil
		}
	}
	return false, nil
}
