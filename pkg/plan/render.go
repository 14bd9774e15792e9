package plan

import (
	"fmt"

	"github.com/xlab/treeprint"

	"github.com/rendis/planit/pkg/walltime"
)

// Render draws the plan as a tree. Steps show their budget as written,
// composites show their computed duration.
func Render(p *Plan) string {
	tree := treeprint.NewWithRoot("Plan: " + p.name)
	if p.root != nil {
		addNode(tree, p.root)
	}
	return tree.String()
}

func addNode(tree treeprint.Tree, n Node) {
	switch node := n.(type) {
	case *Step:
		tree.AddNode(fmt.Sprintf("● %s [%s]", node.name, node.timeLimit))
	case *Chain:
		branch := tree.AddBranch(fmt.Sprintf("▼ Chain [%s]", walltime.Format(node.EstimatedDuration())))
		for _, c := range node.nodes {
			addNode(branch, c)
		}
	case *Parallel:
		branch := tree.AddBranch(fmt.Sprintf("⇉ Parallel [%s]", walltime.Format(node.EstimatedDuration())))
		for _, c := range node.nodes {
			addNode(branch, c)
		}
	}
}
