package feedback

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator issues time-ordered record IDs that stay unique across
// instances as long as each instance has its own node ID.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator creates a generator for node (0..1023).
func NewIDGenerator(node int64) (*IDGenerator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("feedback: snowflake node %d: %w", node, err)
	}
	return &IDGenerator{node: n}, nil
}

// Next returns a new ID in decimal form.
func (g *IDGenerator) Next() string {
	return g.node.Generate().String()
}
