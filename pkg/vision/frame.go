// Package vision converts raw vision-ingress packets into the core's
// internal coordinate convention and routes them through staleness,
// area-of-interest, and crowd-rejection filters before they reach the ball
// and robot trackers.
package vision

import (
	"math"
	"time"

	"github.com/fieldtrack/tracker/internal/geom"
	"github.com/fieldtrack/tracker/pkg/robot"
)

// RawBallDetection is one ball sighting as received from vision, in mm.
type RawBallDetection struct {
	X, Y, Area float64
}

// RawRobotDetection is one robot sighting as received from vision, in mm
// and radians.
type RawRobotDetection struct {
	Team        robot.Team
	ID          int32
	X, Y        float64
	Orientation float64
}

// RawFrame is one per-camera vision packet exactly as the wire format
// reports it.
type RawFrame struct {
	CameraID int32
	TCapture float64 // seconds
	TSent    float64 // seconds
	Balls    []RawBallDetection
	Robots   []RawRobotDetection
}

// BallSighting is a converted ball detection in the core's world frame
// (meters).
type BallSighting struct {
	Pos  geom.Vec2
	Area float64
}

// RobotSighting is a converted robot detection in the core's world frame.
type RobotSighting struct {
	Identity    robot.Identity
	Pos         geom.Vec2
	Orientation float64
}

// Frame is a RawFrame converted to the core's coordinate and time
// conventions: position = (−y/1000, x/1000), orientation += π/2,
// visionProcessingTime = (t_sent − t_capture)·10⁹ ns.
type Frame struct {
	CameraID            int32
	CaptureTime         int64 // ns
	VisionProcessingTime int64 // ns
	SourceTime          int64 // ns, set by Core.QueuePacket via SourceTime once receiveTime is known
	Balls               []BallSighting
	Robots              []RobotSighting
}

// Convert applies the wire-to-world coordinate transform.
func Convert(raw RawFrame) Frame {
	f := Frame{
		CameraID:             raw.CameraID,
		CaptureTime:          int64(raw.TCapture * 1e9),
		VisionProcessingTime: int64((raw.TSent - raw.TCapture) * 1e9),
	}
	for _, b := range raw.Balls {
		f.Balls = append(f.Balls, BallSighting{
			Pos:  geom.Vec2{X: -b.Y / 1000, Y: b.X / 1000},
			Area: b.Area,
		})
	}
	for _, r := range raw.Robots {
		f.Robots = append(f.Robots, RobotSighting{
			Identity:    robot.Identity{Team: r.Team, ID: r.ID},
			Pos:         geom.Vec2{X: -r.Y / 1000, Y: r.X / 1000},
			Orientation: r.Orientation + math.Pi/2,
		})
	}
	return f
}

// SourceTime computes the frame ordering key: receiveTime minus processing
// time minus the configured system delay.
func SourceTime(receiveTime int64, visionProcessingTime int64, systemDelay time.Duration) int64 {
	return receiveTime - visionProcessingTime - systemDelay.Nanoseconds()
}
