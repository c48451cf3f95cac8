package retrieval

import (
	"github.com/poiesic/finrag/core"
	"github.com/poiesic/finrag/index"
)

// Monitor provides hooks to observe the retrieval process.
// Implement this interface to track intermediate steps and scores.
type Monitor interface {
	Start(query string, k int)
	AfterVectorSearch(hits []index.Hit)
	AfterEntityExtraction(entities []core.ExtractedEntity)
	Scored(candidate core.RetrievalCandidate)
	Finish(results []core.RetrievalCandidate)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ int)                          {}
func (n *noopMonitor) AfterVectorSearch(_ []index.Hit)                {}
func (n *noopMonitor) AfterEntityExtraction(_ []core.ExtractedEntity) {}
func (n *noopMonitor) Scored(_ core.RetrievalCandidate)               {}
func (n *noopMonitor) Finish(_ []core.RetrievalCandidate)             {}
