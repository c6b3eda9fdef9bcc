package domain

import "strconv"

// ClusterID identifies a dense cluster within one partition generation.
type ClusterID int

// NoiseClusterID is the storage and wire form of the noise bucket.
const NoiseClusterID ClusterID = -1

// Assignment is the placement of an article: either Clustered(id) or Noise.
// The zero value is Noise.
type Assignment struct {
	id        ClusterID
	clustered bool
}

// Noise is the assignment of articles not dense enough to belong to a cluster.
var Noise = Assignment{}

// Clustered returns the assignment to cluster id.
func Clustered(id ClusterID) Assignment {
	return Assignment{id: id, clustered: true}
}

// AssignmentFromKey converts the storage form back into an Assignment.
func AssignmentFromKey(key ClusterID) Assignment {
	if key < 0 {
		return Noise
	}

	return Clustered(key)
}

// ClusterID returns the cluster and true, or false for noise.
func (a Assignment) ClusterID() (ClusterID, bool) {
	return a.id, a.clustered
}

// IsNoise reports whether the article sits in the noise bucket.
func (a Assignment) IsNoise() bool {
	return !a.clustered
}

// Key returns the cluster id, or NoiseClusterID for noise.
func (a Assignment) Key() ClusterID {
	if !a.clustered {
		return NoiseClusterID
	}

	return a.id
}

func (a Assignment) String() string {
	if !a.clustered {
		return "noise"
	}

	return "cluster:" + strconv.Itoa(int(a.id))
}
