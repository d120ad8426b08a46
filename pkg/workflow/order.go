package workflow

import (
	"github.com/agentteam/runtime/pkg/agentmodel"
)

func indexSteps(def agentmodel.WorkflowDefinition) map[string]agentmodel.Step {
	byID := make(map[string]agentmodel.Step, len(def.Steps))
	for _, s := range def.Steps {
		byID[s.ID] = s
	}
	return byID
}

// validate checks the structural preconditions a WorkflowDefinition
// must satisfy before any step runs: the entry and every exit step
// exist, every dependsOn name resolves, and the dependsOn graph has no
// cycle.
func validate(def agentmodel.WorkflowDefinition) error {
	byID := indexSteps(def)

	if _, ok := byID[def.EntryStep]; !ok {
		return agentmodel.NewConfigError("entry step not found: "+def.EntryStep, nil)
	}
	for _, exit := range def.ExitSteps {
		if _, ok := byID[exit]; !ok {
			return agentmodel.NewConfigError("exit step not found: "+exit, nil)
		}
	}
	for _, s := range def.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return agentmodel.NewConfigError("step "+s.ID+" depends on unknown step "+dep, nil)
			}
		}
	}
	return detectCycle(def.Steps, byID)
}

// detectCycle runs DFS with an explicit recursion stack over the
// dependsOn graph, mirroring the teacher's own Kahn's-algorithm cycle
// check generalized to a stack-based DFS (spec.md's own prescribed
// detection strategy for this component).
func detectCycle(steps []agentmodel.Step, byID map[string]agentmodel.Step) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(steps))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			cyc := append(append([]string{}, stack...), id)
			return &agentmodel.CycleError{Remaining: cyc}
		}
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, s := range steps {
		if err := visit(s.ID); err != nil {
			return err
		}
	}
	return nil
}

// executionOrder computes the step visitation order: a depth-first
// traversal from the entry step that visits every dependsOn
// predecessor before the step itself, following forward edges (a
// conditional step's thenSteps/elseSteps count as forward edges so
// branch targets are reachable from their gate). Steps unreached by
// that traversal are appended afterward in definition order, so
// nothing defined is silently dropped.
func executionOrder(def agentmodel.WorkflowDefinition) []string {
	byID := indexSteps(def)
	successors := make(map[string][]string, len(def.Steps))
	for _, s := range def.Steps {
		for _, dep := range s.DependsOn {
			successors[dep] = append(successors[dep], s.ID)
		}
		if s.Type == agentmodel.StepConditional {
			successors[s.ID] = append(successors[s.ID], s.ThenSteps...)
			successors[s.ID] = append(successors[s.ID], s.ElseSteps...)
		}
	}

	visited := make(map[string]bool, len(def.Steps))
	var order []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		if _, ok := byID[id]; !ok {
			return
		}
		visited[id] = true
		for _, dep := range byID[id].DependsOn {
			visit(dep)
		}
		order = append(order, id)
		for _, succ := range successors[id] {
			visit(succ)
		}
	}
	visit(def.EntryStep)

	for _, s := range def.Steps {
		if !visited[s.ID] {
			order = append(order, s.ID)
		}
	}
	return order
}
