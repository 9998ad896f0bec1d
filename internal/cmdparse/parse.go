package cmdparse

import "fmt"

// Options configures Parse. Aliases and History are interactive-mode
// features only (spec.md §4.4 step 1); sudo-compat single-command
// invocations pass them empty/nil.
type Options struct {
	Aliases          map[string]string
	History          []string
	PathDirs         []string
	MaxCommandLength int
}

// Parse tokenizes line into a Pipeline per spec.md §4.4's five-stage
// pipeline: history/alias expansion, operator scan, segmentation,
// tokenization, and a final length budget check.
func Parse(line string, opts Options) (*Pipeline, error) {
	expanded := line
	if resolved, ok := expandHistory(line, opts.History); ok {
		expanded = resolved
	}

	if err := detectRejectedOperator(expanded); err != nil {
		return nil, err
	}

	rawStages := splitTopLevel(expanded, '|')
	stages := make([]Command, 0, len(rawStages))
	for i, raw := range rawStages {
		trimmed := trimSpace(raw)
		if trimmed == "" {
			return nil, fmt.Errorf("cmdparse: empty pipeline stage")
		}
		cmdText, redirect, hasRedirect := splitRedirect(trimmed)
		if hasRedirect && i != len(rawStages)-1 {
			return nil, fmt.Errorf("cmdparse: redirection only permitted on the final pipeline stage")
		}
		if hasRedirect && redirect.Path == "" {
			return nil, fmt.Errorf("cmdparse: redirection with no target path")
		}

		tokens, err := tokenize(trimSpace(cmdText))
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			return nil, fmt.Errorf("cmdparse: empty command in pipeline stage %d", i+1)
		}

		tokens = expandAliases(tokens, opts.Aliases)
		tokens = expandEqualsCmd(tokens, opts.PathDirs)

		stages = append(stages, Command{Argv: tokens, Redirect: redirect})
	}

	pipeline := &Pipeline{Stages: stages, Raw: expanded}

	if opts.MaxCommandLength > 0 && budgetLength(pipeline) > opts.MaxCommandLength {
		return nil, fmt.Errorf("cmdparse: command exceeds max_command_length (%d)", opts.MaxCommandLength)
	}

	return pipeline, nil
}

// budgetLength computes the post-expansion command length for the
// budget check in spec.md §4.4 step 5.
func budgetLength(p *Pipeline) int {
	total := 0
	for _, stage := range p.Stages {
		for _, tok := range stage.Argv {
			total += len(tok) + 1
		}
		if stage.Redirect.Kind != RedirectNone {
			total += len(stage.Redirect.Path) + 2
		}
	}
	return total
}
