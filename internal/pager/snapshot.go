package pager

import "snaptree/internal/base"

// Snapshot bundles metadata and root pointer for atomic visibility
type Snapshot struct {
	Meta base.MetaPage
	Root *base.Node
}
