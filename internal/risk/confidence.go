package risk

// Confidence is the weighted fraction of configured components that had data
// in the window. It is independent of the risk values themselves: a low-risk
// component with data still contributes its full weight. Strictly
// non-increasing as components become unavailable.
func Confidence(weights map[Component]float64, components map[Component]ComponentScore) float64 {
	var available, total float64
	for _, name := range Components() {
		weight := weights[name]
		total += weight
		if components[name].Available {
			available += weight
		}
	}
	if total == 0 {
		return 0
	}
	return clamp01(available / total)
}
