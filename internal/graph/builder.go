// Package graph builds the weighted participant network for one source from
// its full annotated message set.
package graph

import (
	"sort"
	"time"

	"github.com/caseward/forensics-cli/internal/model"
)

type edgeAccum struct {
	count        int
	first, last  *time.Time
	sentimentSum float64
	sentimentN   int
}

// Build aggregates the message set into a NetworkGraph. The graph is a pure
// function of the set: only commutative aggregation is used, so any input
// ordering yields identical edge weights, timestamps, and means. Self-pairs
// are recorded as self-loops, not dropped. The graph is rebuilt wholesale on
// every analysis; it is never incrementally mutated.
func Build(sourceID string, msgs []model.AnnotatedMessage) *model.NetworkGraph {
	edges := map[[2]string]*edgeAccum{}

	for _, m := range msgs {
		for _, recipient := range m.Recipients {
			key := pairKey(m.Sender, recipient)
			acc := edges[key]
			if acc == nil {
				acc = &edgeAccum{}
				edges[key] = acc
			}

			acc.count++
			if m.SentAt != nil {
				if acc.first == nil || m.SentAt.Before(*acc.first) {
					acc.first = m.SentAt
				}
				if acc.last == nil || m.SentAt.After(*acc.last) {
					acc.last = m.SentAt
				}
			}
			if m.Annotation != nil {
				acc.sentimentSum += m.Annotation.Sentiment
				acc.sentimentN++
			}
		}
	}

	g := &model.NetworkGraph{
		SourceID: sourceID,
		BuiltAt:  time.Now().UTC(),
		Edges:    make([]model.GraphEdge, 0, len(edges)),
	}

	for key, acc := range edges {
		e := model.GraphEdge{
			A:              key[0],
			B:              key[1],
			MessageCount:   acc.count,
			FirstContact:   acc.first,
			LastContact:    acc.last,
			SentimentCount: acc.sentimentN,
		}
		if acc.sentimentN > 0 {
			e.MeanSentiment = acc.sentimentSum / float64(acc.sentimentN)
		}
		g.Edges = append(g.Edges, e)
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].A != g.Edges[j].A {
			return g.Edges[i].A < g.Edges[j].A
		}
		return g.Edges[i].B < g.Edges[j].B
	})

	g.Nodes = rankNodes(g.Edges)
	return g
}

// pairKey orders the pair lexicographically so (a,b) and (b,a) share an edge.
func pairKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// rankNodes derives degree and weighted-degree centrality from the finished
// edge set and ranks participants by weighted degree. Ties rank by
// participant identifier for determinism.
func rankNodes(edges []model.GraphEdge) []model.GraphNode {
	degree := map[string]int{}
	weighted := map[string]int{}
	for _, e := range edges {
		degree[e.A]++
		weighted[e.A] += e.MessageCount
		if e.B != e.A {
			degree[e.B]++
			weighted[e.B] += e.MessageCount
		}
	}

	nodes := make([]model.GraphNode, 0, len(degree))
	maxWeighted := 0
	for p, w := range weighted {
		if w > maxWeighted {
			maxWeighted = w
		}
		nodes = append(nodes, model.GraphNode{
			Participant:    p,
			Degree:         degree[p],
			WeightedDegree: w,
		})
	}

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].WeightedDegree != nodes[j].WeightedDegree {
			return nodes[i].WeightedDegree > nodes[j].WeightedDegree
		}
		return nodes[i].Participant < nodes[j].Participant
	})
	for i := range nodes {
		nodes[i].CentralityRank = i + 1
		if maxWeighted > 0 {
			nodes[i].Centrality = float64(nodes[i].WeightedDegree) / float64(maxWeighted)
		}
	}
	return nodes
}
