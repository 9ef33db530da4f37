package tracestore

import "sort"

const cancellationEventName = "cancellation"

// Reconstruct builds the rooted trace tree for a flat, startTime-ascending
// set of span rows belonging to one traceId, applying C4's 5-step
// algorithm: dedup by spanId, ancestor-cancellation derivation, duration
// override for partial descendants of a cancelled ancestor, root detection,
// and ordering children by startTime.
//
// Returns (nil, nil) if no root span exists, per spec: an empty summary.
func Reconstruct(spans []Span) (*TraceSummary, error) {
	bySpanID := dedupBySpanID(spans)

	nodes := make(map[string]*ReconstructedSpan, len(bySpanID))
	for spanID, s := range bySpanID {
		nodes[spanID] = &ReconstructedSpan{Span: s}
	}

	var root *ReconstructedSpan

	for _, node := range nodes {
		ancestorCancelled := walkAncestorCancelled(node, nodes, len(nodes))

		node.EffectiveIsPartial = node.IsPartial && !ancestorCancelled
		node.EffectiveIsCancelled = node.IsCancelled || (node.IsPartial && ancestorCancelled)
		node.EffectiveDuration = node.Duration

		if node.IsPartial && ancestorCancelled {
			if d, ok := cancellationDuration(node, nodes, len(nodes)); ok {
				node.EffectiveDuration = d
			}
		}

		if node.ParentID == "" {
			root = node
		}
	}

	if root == nil {
		return nil, nil
	}

	for _, node := range nodes {
		if node.ParentID == "" {
			continue
		}

		if parent, ok := nodes[node.ParentID]; ok {
			parent.Children = append(parent.Children, node)
		}
	}

	sortChildrenRecursive(root)

	ordered := make([]*ReconstructedSpan, 0, len(nodes))
	for _, node := range nodes {
		ordered = append(ordered, node)
	}

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].StartTime < ordered[j].StartTime })

	return &TraceSummary{RootSpan: root, Spans: ordered}, nil
}

// dedupBySpanID keeps, for each spanId, the row that is !isPartial || isCancelled;
// when more than one row qualifies, the last-written (last in the input slice) wins.
func dedupBySpanID(spans []Span) map[string]Span {
	best := make(map[string]Span, len(spans))

	for _, s := range spans {
		existing, ok := best[s.SpanID]
		if !ok {
			best[s.SpanID] = s

			continue
		}

		if spanEligible(s) || !spanEligible(existing) {
			best[s.SpanID] = s
		}
	}

	return best
}

func spanEligible(s Span) bool {
	return !s.IsPartial || s.IsCancelled
}

// walkAncestorCancelled reports whether self or any ancestor is cancelled,
// following parentId links up to depth steps to tolerate malformed input
// without looping forever.
func walkAncestorCancelled(node *ReconstructedSpan, nodes map[string]*ReconstructedSpan, depth int) bool {
	current := node

	for i := 0; i < depth; i++ {
		if current.IsCancelled {
			return true
		}

		if current.ParentID == "" {
			return false
		}

		parent, ok := nodes[current.ParentID]
		if !ok {
			return false
		}

		current = parent
	}

	return false
}

// cancellationDuration walks up to the nearest cancelled ancestor and returns
// the non-negative duration from self.StartTime to that ancestor's
// cancellation-event time.
func cancellationDuration(node *ReconstructedSpan, nodes map[string]*ReconstructedSpan, depth int) (int64, bool) {
	current := node

	for i := 0; i < depth; i++ {
		if current.IsCancelled {
			cancelTime, ok := cancellationEventTime(current.Span)
			if !ok {
				return 0, false
			}

			duration := cancelTime - node.StartTime
			if duration < 0 {
				duration = 0
			}

			return duration, true
		}

		if current.ParentID == "" {
			return 0, false
		}

		parent, ok := nodes[current.ParentID]
		if !ok {
			return 0, false
		}

		current = parent
	}

	return 0, false
}

func cancellationEventTime(s Span) (int64, bool) {
	for _, ev := range s.Events {
		if ev.Name == cancellationEventName {
			return ev.Time, true
		}
	}

	return 0, false
}

func sortChildrenRecursive(node *ReconstructedSpan) {
	sort.Slice(node.Children, func(i, j int) bool {
		return node.Children[i].StartTime < node.Children[j].StartTime
	})

	for _, child := range node.Children {
		sortChildrenRecursive(child)
	}
}
