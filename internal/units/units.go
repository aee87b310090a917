// Package units converts between the time units the network model mixes.
// Timetables quote segment travel times in minutes, train delays
// accumulate in seconds and speeds stay km/h throughout, so rate
// arithmetic keeps crossing unit boundaries.
package units

// Conversion factors between the model's time units.
const (
	SecondsPerMinute float64 = 60
	SecondsPerHour   float64 = 3600
	MinutesPerHour   float64 = 60
)

// MinutesToSeconds converts a duration in minutes to seconds.
func MinutesToSeconds(min float64) float64 {
	return min * SecondsPerMinute
}

// SecondsToMinutes converts a duration in seconds to fractional minutes.
func SecondsToMinutes(sec float64) float64 {
	return sec / SecondsPerMinute
}

// SecondsToHours converts a duration in seconds to fractional hours.
func SecondsToHours(sec float64) float64 {
	return sec / SecondsPerHour
}

// HoursToMinutes converts a duration in hours to minutes.
func HoursToMinutes(hours float64) float64 {
	return hours * MinutesPerHour
}
