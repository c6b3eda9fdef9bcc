package domain

import "time"

// Cluster is a dense region of the partition.
type Cluster struct {
	ID       ClusterID
	Members  map[ArticleID]struct{}
	Centroid []float32
	// Density is the share of all indexed articles that belong to the cluster.
	Density float64
}

// Size returns the member count.
func (c Cluster) Size() int {
	return len(c.Members)
}

// ClusterArm holds the Beta(Alpha, Beta) posterior of one cluster.
type ClusterArm struct {
	ClusterID   ClusterID
	Alpha       float64
	Beta        float64
	LastUpdated time.Time
}

// NewArm returns a uniform Beta(1,1) arm.
func NewArm(id ClusterID, now time.Time) ClusterArm {
	return ClusterArm{ClusterID: id, Alpha: 1, Beta: 1, LastUpdated: now}
}

// Mean returns the posterior mean alpha / (alpha + beta).
func (a ClusterArm) Mean() float64 {
	return a.Alpha / (a.Alpha + a.Beta)
}

// Excess returns the reward mass above the uniform prior.
func (a ClusterArm) Excess() (float64, float64) {
	return a.Alpha - 1, a.Beta - 1
}

// ClusterSummary is the dashboard view of one cluster.
type ClusterSummary struct {
	ClusterID       ClusterID   `json:"cluster_id"`
	Size            int         `json:"size"`
	Density         float64     `json:"density"`
	Alpha           float64     `json:"alpha"`
	Beta            float64     `json:"beta"`
	SampleMembers   []ArticleID `json:"sample_members"`
	BoundaryMembers []ArticleID `json:"boundary_members"`
}
