// Package tracker wires the ball, robot, vision, and world packages into
// the single-threaded tracking core the rest of the system talks to: one
// struct owning every filter collection, with plain push/pull methods and
// no internal goroutines.
package tracker

import (
	"fmt"
	"time"

	"github.com/fieldtrack/tracker/internal/geom"
	"github.com/fieldtrack/tracker/internal/warn"
	"github.com/fieldtrack/tracker/pkg/ball"
	"github.com/fieldtrack/tracker/pkg/calib"
	"github.com/fieldtrack/tracker/pkg/config"
	"github.com/fieldtrack/tracker/pkg/robot"
	"github.com/fieldtrack/tracker/pkg/vision"
	"github.com/fieldtrack/tracker/pkg/world"
)

const highLatencyThreshold = 40 * time.Millisecond
const highLatencyWindow = 10 * time.Second
const highLatencyCount = 125

// GeometryUpdate is one per-camera calibration packet.
type GeometryUpdate struct {
	CameraID           int32
	PositionX, PositionY, PositionZ float64 // mm
	FocalLength        float64
	Sender             string
}

// DebugEvent is one item on the optional tracking debug channel. Emitting
// debug is behaviorally neutral: nothing in the core reads these back.
type DebugEvent struct {
	CameraID int32
	Key      string
	Value    float64
	Plot     string
	Circle   *DebugCircle
	Segment  *DebugSegment
}

// DebugCircle is a world-coordinate circle primitive.
type DebugCircle struct {
	X, Y, Radius float64
}

// DebugSegment is a world-coordinate line-segment primitive.
type DebugSegment struct {
	X1, Y1, X2, Y2 float64
}

// Core is the tracking core: single-threaded with respect to its own
// mutable state. All exported methods must be called from one goroutine;
// callers that ingest from multiple sources must serialize through a
// message-passing boundary of their own.
type Core struct {
	cfg config.Config

	calib  *calib.Store
	router *vision.Router
	balls  *ball.BallTrackerSet
	robots *robot.RobotTrackerSet
	writer *world.Writer

	warnings    chan string
	debug       chan DebugEvent
	dedupe      *warn.Deduper
	highLatency []int64 // ns timestamps of recent slow-frame events
}

// New creates a tracking core with the given configuration. Warning and
// debug channels are buffered so ingestion never blocks on a slow reader.
func New(cfg config.Config) *Core {
	return &Core{
		cfg:      cfg,
		calib:    calib.NewStore(),
		router:   vision.NewRouter(),
		balls:    ball.NewBallTrackerSet(),
		robots:   robot.NewRobotTrackerSet(),
		writer:   world.NewWriter(),
		warnings: make(chan string, 64),
		debug:    make(chan DebugEvent, 256),
		dedupe:   warn.NewDeduper(),
	}
}

// Warnings returns the warning channel.
func (c *Core) Warnings() <-chan string { return c.warnings }

// Debug returns the optional debug channel.
func (c *Core) Debug() <-chan DebugEvent { return c.debug }

func (c *Core) warn(msg string) {
	select {
	case c.warnings <- msg:
	default:
	}
}

func (c *Core) emitDebug(e DebugEvent) {
	select {
	case c.debug <- e:
	default:
	}
}

// QueueGeometry installs a camera's calibration, warning once per
// conflicting sender pair.
func (c *Core) QueueGeometry(g GeometryUpdate) {
	cal := calib.Calibration{
		CameraID: g.CameraID,
		Position: vec3FromMM(g.PositionX, g.PositionY, g.PositionZ),
		FocalLength: g.FocalLength,
		Sender:   g.Sender,
	}
	if w := c.calib.Upsert(cal); w != "" {
		if c.dedupe.Once(w) {
			c.warn(w)
		}
	}
}

func vec3FromMM(x, y, z float64) geom.Vec3 {
	return geom.Vec3{X: x / 1000, Y: y / 1000, Z: z / 1000}
}

// QueueCommand delivers a radio command for a (team,id) to its robot
// filters.
func (c *Core) QueueCommand(id robot.Identity, cmd robot.Command) {
	c.robots.ApplyCommand(id, cmd)
}

// QueuePacket processes one vision detection frame, running to completion
// before returning: ingress and egress never interleave mid-frame.
func (c *Core) QueuePacket(raw vision.RawFrame, receiveTime int64) error {
	f := vision.Convert(raw)
	if f.VisionProcessingTime >= highLatencyThreshold.Nanoseconds() {
		c.recordHighLatency(receiveTime)
	}
	f.SourceTime = vision.SourceTime(receiveTime, f.VisionProcessingTime, c.cfg.SystemDelay)

	accepted, ok := c.router.Accept(f)
	if !ok {
		return nil // stale frame: drop
	}

	cam, known := c.calib.Get(accepted.CameraID)
	if !known {
		accepted.Balls = nil // unknown camera: drop ball detections
	}

	snapshots := world.RobotSnapshots(accepted.SourceTime, c.cfg, c.robots)

	dets := make([]ball.Detection, 0, len(accepted.Balls))
	for _, b := range accepted.Balls {
		c.writer.RecordRawDetection(accepted.CameraID, b.Pos, accepted.SourceTime)
		sample := c.buildChipDetection(b, accepted, snapshots)
		dets = append(dets, ball.Detection{Sample: sample, CameraID: accepted.CameraID})
		c.emitDebug(DebugEvent{
			CameraID: accepted.CameraID,
			Circle:   &DebugCircle{X: b.Pos.X, Y: b.Pos.Y, Radius: c.cfg.BallRadius},
		})
	}
	c.balls.ApplyVisionBatch(c.cfg, dets, snapshots, cam)

	for _, r := range accepted.Robots {
		isPrimary := true // camera-config driven preference is caller's concern; default true
		if err := c.robots.ApplyVisionFrame(r.Identity, r.Pos.X, r.Pos.Y, r.Orientation, accepted.SourceTime, accepted.CameraID, isPrimary, c.cfg); err != nil {
			c.warn(fmt.Sprintf("robot filter update failed for %+v: %v", r.Identity, err))
		}
	}

	return nil
}

func (c *Core) buildChipDetection(b vision.BallSighting, f vision.Frame, snapshots []ball.RobotSnapshot) ball.ChipDetection {
	d := ball.ChipDetection{
		BallPos:     b.Pos,
		Time:        f.SourceTime,
		CaptureTime: f.CaptureTime,
		CameraID:    f.CameraID,
	}
	var nearest *ball.RobotSnapshot
	var nearestDist float64
	for i := range snapshots {
		dist := snapshots[i].Pos.Dist(b.Pos)
		if nearest == nil || dist < nearestDist {
			nearest = &snapshots[i]
			nearestDist = dist
		}
	}
	if nearest != nil {
		d.DribblerPos = nearest.DribblerPos
		d.RobotPos = nearest.Pos
		d.RobotID = nearest.ID
		d.AbsSpeed = nearest.Velocity.Norm()
		d.DribblerSpeed = b.Pos.Dist(nearest.DribblerPos)
		d.ShootCommand = ball.EffectiveKickCommand(nearest.ShootCommand, nearest.ShootPower)
	}
	return d
}

// recordHighLatency tracks slow-processing vision frames and warns once per
// window once the threshold count is reached.
func (c *Core) recordHighLatency(t int64) {
	c.highLatency = append(c.highLatency, t)
	kept := c.highLatency[:0]
	for _, ts := range c.highLatency {
		if t-ts <= highLatencyWindow.Nanoseconds() {
			kept = append(kept, ts)
		}
	}
	c.highLatency = kept

	if len(c.highLatency) >= highLatencyCount {
		key := fmt.Sprintf("high-latency-window-%d", t/highLatencyWindow.Nanoseconds())
		if c.dedupe.Once(key) {
			c.warn(fmt.Sprintf("vision processing exceeded %s at least %d times in the last %s", highLatencyThreshold, highLatencyCount, highLatencyWindow))
		}
		c.highLatency = nil
	}
}

// ApplyEmptyTick advances every ball tracker with no new detection for this
// tick, used when the caller drives ticks independently of vision arrival.
func (c *Core) ApplyEmptyTick(dt float64, t int64) {
	snapshots := world.RobotSnapshots(t, c.cfg, c.robots)
	c.balls.ApplyEmptyTick(dt, t, snapshots, c.cfg)
	c.robots.Prune(t)
}

// WorldState returns the world-state egress record for the requested
// prediction time.
func (c *Core) WorldState(now int64) world.State {
	snapshots := world.RobotSnapshots(now, c.cfg, c.robots)
	return c.writer.Query(now, c.cfg, c.balls, c.robots, snapshots)
}

// SetAreaOfInterest installs the active AOI clipping rectangle.
func (c *Core) SetAreaOfInterest(aoi vision.AreaOfInterest) { c.router.SetAreaOfInterest(aoi) }

// SetFieldTransform installs the active field transform.
func (c *Core) SetFieldTransform(t world.FieldTransform) { c.writer.SetTransform(t) }

// Reset drops every filter and queue, atomically relative to the next
// tick.
func (c *Core) Reset() {
	c.balls = ball.NewBallTrackerSet()
	c.robots = robot.NewRobotTrackerSet()
	c.router = vision.NewRouter()
	c.writer = world.NewWriter()
	c.dedupe.Reset()
	c.highLatency = nil
}
