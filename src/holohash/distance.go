package holohash

// RingDistance is the shortest distance between two locations on the u32 ring.
func RingDistance(a, b uint32) uint32 {
	d := a - b
	if e := b - a; e < d {
		return e
	}
	return d
}
