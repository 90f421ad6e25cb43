package beam

import "sort"

// Prune implements spec §4.8's beam-width cut: up to beamWidth/2 top
// terminals by commit_utility, the remainder filled by top non-terminals
// by heuristic_score, with dominated nodes discarded first.
func Prune(nodes []*BeamNode, beamWidth int) []*BeamNode {
	live := make([]*BeamNode, 0, len(nodes))
	for _, n := range nodes {
		if !n.Dominated {
			live = append(live, n)
		}
	}
	markDominated(live)

	var terminals, nonTerminals []*BeamNode
	for _, n := range live {
		if n.Dominated {
			continue
		}
		if n.IsTerminal {
			terminals = append(terminals, n)
		} else {
			nonTerminals = append(nonTerminals, n)
		}
	}

	sort.Slice(terminals, func(i, j int) bool {
		return commitUtilityOf(terminals[i]) > commitUtilityOf(terminals[j])
	})
	sort.Slice(nonTerminals, func(i, j int) bool {
		return nonTerminals[i].HeuristicScore > nonTerminals[j].HeuristicScore
	})

	terminalBudget := beamWidth / 2
	if terminalBudget > len(terminals) {
		terminalBudget = len(terminals)
	}

	kept := make([]*BeamNode, 0, beamWidth)
	kept = append(kept, terminals[:terminalBudget]...)

	remaining := beamWidth - len(kept)
	if remaining > len(nonTerminals) {
		remaining = len(nonTerminals)
	}
	if remaining > 0 {
		kept = append(kept, nonTerminals[:remaining]...)
	}

	// If terminal supply ran short of its budget, let non-terminals
	// backfill the rest of beamWidth.
	if len(kept) < beamWidth {
		usedNonTerminal := remaining
		extra := beamWidth - len(kept)
		if extra > len(nonTerminals)-usedNonTerminal {
			extra = len(nonTerminals) - usedNonTerminal
		}
		if extra > 0 {
			kept = append(kept, nonTerminals[usedNonTerminal:usedNonTerminal+extra]...)
		}
	}

	return kept
}

// markDominated flags every node strictly dominated by another live
// node at the same t_step.
func markDominated(nodes []*BeamNode) {
	for i, a := range nodes {
		for j, b := range nodes {
			if i == j {
				continue
			}
			if dominates(b, a) {
				a.Dominated = true
				break
			}
		}
	}
}

func commitUtilityOf(n *BeamNode) float64 {
	if n.CommitUtility == nil {
		return 0
	}
	return *n.CommitUtility
}

// BestTerminal returns the live terminal node with the highest
// commit_utility, or nil if none exists.
func BestTerminal(nodes []*BeamNode) *BeamNode {
	var best *BeamNode
	for _, n := range nodes {
		if !n.IsTerminal || n.CommitUtility == nil {
			continue
		}
		if best == nil || *n.CommitUtility > *best.CommitUtility {
			best = n
		}
	}
	return best
}

// BestNonTerminal returns the live non-terminal node with the highest
// heuristic_score, used as the planner's fallback when no terminal
// exists at horizon.
func BestNonTerminal(nodes []*BeamNode) *BeamNode {
	var best *BeamNode
	for _, n := range nodes {
		if n.IsTerminal {
			continue
		}
		if best == nil || n.HeuristicScore > best.HeuristicScore {
			best = n
		}
	}
	return best
}
