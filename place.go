package apgas

// Place identifies one peer process in the fixed cluster. The place set
// is immutable for the lifetime of a run (spec §1 non-goals: no elastic
// membership).
type Place int32

// herePlace is set once by genesis()/bootstrap and never changes again.
var herePlace Place
var worldSize int

// Here returns the local place of the current process.
func Here() Place { return herePlace }

// WorldSize returns the immutable number of places in the cluster.
func WorldSize() int { return worldSize }

// setLocalTopology is called exactly once, during genesis bring-up.
func setLocalTopology(here Place, world int) {
	herePlace = here
	worldSize = world
}
