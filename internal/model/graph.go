package model

import "time"

// GraphNode is one participant in the network graph with derived centrality
// attributes attached after the full graph is built.
type GraphNode struct {
	Participant    string  `json:"participant"`
	Degree         int     `json:"degree"`
	WeightedDegree int     `json:"weighted_degree"`
	CentralityRank int     `json:"centrality_rank"`
	Centrality     float64 `json:"centrality"`
}

// GraphEdge aggregates all messages exchanged between an unordered pair of
// participants. A == B for self-loops; A is always <= B lexicographically so
// the pair key is order-independent.
type GraphEdge struct {
	A            string     `json:"a"`
	B            string     `json:"b"`
	MessageCount int        `json:"message_count"`
	FirstContact *time.Time `json:"first_contact,omitempty"`
	LastContact  *time.Time `json:"last_contact,omitempty"`
	// MeanSentiment is the running mean over annotated messages on this edge;
	// SentimentCount is how many messages contributed to it.
	MeanSentiment  float64 `json:"mean_sentiment"`
	SentimentCount int     `json:"sentiment_count"`
}

// NetworkGraph is the participant graph for one source, rebuilt wholesale on
// every analysis run. It is a pure function of the message set: the same
// messages in any order produce identical edges and node attributes.
type NetworkGraph struct {
	SourceID string      `json:"source_id"`
	Nodes    []GraphNode `json:"nodes"`
	Edges    []GraphEdge `json:"edges"`
	BuiltAt  time.Time   `json:"built_at"`
}
