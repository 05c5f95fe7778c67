// Package routing computes read-traffic weight assignments for the
// nodes of a cluster.
package routing

import (
	"math"
	"sort"

	"pgplane/internal/model"
)

// DefaultPrimaryReadShare is the share of read traffic the primary
// keeps when the caller does not choose one.
const DefaultPrimaryReadShare = 20

// Policy controls how read traffic is split
type Policy struct {
	// PrimaryReadShare is the percentage of reads kept on the primary,
	// clamped to [0, 100]. The rest goes to online replicas.
	PrimaryReadShare int
}

// Assignment is one node's computed share of read traffic
type Assignment struct {
	NodeID int            `json:"node_id"`
	Name   string         `json:"name"`
	Role   model.NodeRole `json:"role"`
	Weight int            `json:"weight"`
}

// Distribute assigns integer read weights summing to exactly 100 across
// the routable nodes: the primary keeps the policy share, online
// replicas split the rest proportionally to Priority. Offline and
// degraded replicas always get 0. The result is deterministic for a
// given input order.
func Distribute(nodes []model.Node, policy Policy) []Assignment {
	assignments := make([]Assignment, len(nodes))
	var primaryIdx, replicaIdx []int

	for i, n := range nodes {
		assignments[i] = Assignment{NodeID: n.ID, Name: n.Name, Role: n.Role}
		switch {
		case n.Role == model.NodeRolePrimary:
			primaryIdx = append(primaryIdx, i)
		case n.Status == model.NodeStatusOnline:
			replicaIdx = append(replicaIdx, i)
		}
	}
	if len(primaryIdx)+len(replicaIdx) == 0 {
		return assignments
	}

	primaryShare := policy.PrimaryReadShare
	if primaryShare < 0 {
		primaryShare = 0
	}
	if primaryShare > 100 {
		primaryShare = 100
	}
	if len(replicaIdx) == 0 {
		primaryShare = 100
	}
	if len(primaryIdx) == 0 {
		primaryShare = 0
	}

	for k, w := range split(primaryShare, priorities(nodes, primaryIdx)) {
		assignments[primaryIdx[k]].Weight = w
	}
	for k, w := range split(100-primaryShare, priorities(nodes, replicaIdx)) {
		assignments[replicaIdx[k]].Weight = w
	}
	return assignments
}

func priorities(nodes []model.Node, idx []int) []int {
	out := make([]int, len(idx))
	for k, i := range idx {
		p := nodes[i].Priority
		if p < 0 {
			p = 0
		}
		out[k] = p
	}
	return out
}

// split divides total into integer parts proportional to shares using
// largest-remainder rounding, so the parts always sum to total. Zero
// shares across the board fall back to an equal split. Remainder ties
// go to the earlier index, which keeps the result stable.
func split(total int, shares []int) []int {
	n := len(shares)
	out := make([]int, n)
	if n == 0 || total <= 0 {
		return out
	}

	sum := 0
	for _, s := range shares {
		sum += s
	}

	type remainder struct {
		idx  int
		frac float64
	}
	rems := make([]remainder, n)
	assigned := 0
	for i, s := range shares {
		var exact float64
		if sum == 0 {
			exact = float64(total) / float64(n)
		} else {
			exact = float64(total) * float64(s) / float64(sum)
		}
		floor := int(math.Floor(exact))
		out[i] = floor
		assigned += floor
		rems[i] = remainder{idx: i, frac: exact - float64(floor)}
	}

	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].frac > rems[b].frac
	})
	for k := 0; k < total-assigned; k++ {
		out[rems[k%n].idx]++
	}
	return out
}
