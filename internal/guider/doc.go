// Package guider is the guiding workflow: toggling guiding and looping,
// recalibration, star selection from a display click and the settings the
// autoguider exposes. It owns the telemetry loop and the scatter history and
// runs the pulse relay alongside.
package guider
