// Package robot implements the per-robot Kalman filter and its arbitration
// set: two Kalman copies per instance (past/future), actuator command
// integration, and identity discipline across multiple cameras.
package robot

import "github.com/fieldtrack/tracker/internal/geom"

// KickStyle mirrors the actuator's kick style flags.
type KickStyle int

const (
	KickNone KickStyle = iota
	KickLinear
	KickChip
)

// Command is one radio command for a (team,id), expressed in body frame.
type Command struct {
	Time       int64 // ns, command timestamp
	VS, VF     float64 // body-frame lateral/forward velocity, m/s
	Omega      float64 // rad/s
	KickStyle  KickStyle
	KickPower  float64 // [0,1]
	Dribbler   float64
}

// WorldVelocity projects the command's body-frame velocity into the world
// frame given the robot's current orientation.
func (c Command) WorldVelocity(orientation float64) geom.Vec2 {
	body := geom.Vec2{X: c.VF, Y: c.VS}
	return body.Rotate(orientation)
}
