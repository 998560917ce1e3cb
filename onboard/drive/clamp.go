package drive

// Clamp limits value to the closed range [low, high].
func Clamp(value, low, high float64) float64 {
	if value > high {
		return high
	}
	if value < low {
		return low
	}
	return value
}

func clampInt(value, low, high int) int {
	if value > high {
		return high
	}
	if value < low {
		return low
	}
	return value
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
