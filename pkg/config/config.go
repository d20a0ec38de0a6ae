// Package config carries the tracking core's configuration value struct:
// one explicit struct passed at tracker construction, with Default
// supplying the baseline values, rather than scattered global mutable
// state. The struct is used as passed: zero fields are not replaced with
// defaults and no field is validated.
package config

import "time"

// BallModel holds the rolling-friction and bounce-damping constants the
// ground filter and flight filter share.
type BallModel struct {
	ZDamping          float64 // bounce vertical-speed damping factor
	XYDamping         float64 // bounce ground-speed damping factor
	SlowDeceleration  float64 // rolling-friction deceleration, m/s^2
}

// Config is the tracking core's immutable-after-construction configuration.
type Config struct {
	Ball BallModel

	RobotRadius    float64 // meters
	BallRadius     float64 // meters
	DribblerWidth  float64 // meters, half-width of the dribbler plate

	MaxLinearAccel   float64 // m/s^2, robot filter control clamp
	MaxRotationAccel float64 // rad/s^2, robot filter control clamp

	PrimaryCameraTimeout time.Duration // ball tracker camera handover timeout; the robot filters do not read it
	SystemDelay          time.Duration // host-supplied pipeline delay

	// ResetSpeedTime bounds how long a ball frozen at its stop-dribbling
	// position (reported with zero velocity) stays bound to the robot before
	// the collision filter releases it back to free.
	ResetSpeedTime time.Duration
}

// Default returns the tracking core's baseline tuning constants.
func Default() Config {
	return Config{
		Ball: BallModel{
			ZDamping:         0.55,
			XYDamping:        0.7,
			SlowDeceleration: 0.4,
		},
		RobotRadius:          0.09,
		BallRadius:           0.0215,
		DribblerWidth:        0.07,
		MaxLinearAccel:       10.0,
		MaxRotationAccel:     60.0,
		PrimaryCameraTimeout: 42 * time.Millisecond,
		SystemDelay:          30 * time.Millisecond,
		ResetSpeedTime:       150 * time.Millisecond,
	}
}
