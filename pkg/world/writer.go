package world

import (
	"github.com/fieldtrack/tracker/internal/geom"
	"github.com/fieldtrack/tracker/pkg/ball"
	"github.com/fieldtrack/tracker/pkg/config"
	"github.com/fieldtrack/tracker/pkg/robot"
)

// RobotState is one robot's reported pose and velocity at the requested
// prediction time.
type RobotState struct {
	Identity    robot.Identity
	Pos         geom.Vec2
	Orientation float64
	Vel         geom.Vec2
	Omega       float64
}

// BallState is the reported ball record.
type BallState struct {
	Pos        geom.Vec3
	Vel        geom.Vec3
	IsBouncing bool
	Touchdown  *geom.Vec2
}

// RawEcho is one echoed raw detection with its per-camera inter-frame
// velocity estimate, derived from consecutive same-camera raw positions
// within 0.2 s.
type RawEcho struct {
	CameraID int32
	Pos      geom.Vec2
	Time     int64
	Velocity geom.Vec2
}

// State is the full world-state egress record.
type State struct {
	Robots   []RobotState
	Ball     BallState
	RawBalls []RawEcho
}

type rawSample struct {
	pos geom.Vec2
	t   int64
}

// Writer produces world-state records from the live tracker sets and
// maintains the raw-detection echo history.
type Writer struct {
	transform FieldTransform
	rawByCam  map[int32][]rawSample
}

// NewWriter creates a writer with the identity field transform.
func NewWriter() *Writer {
	return &Writer{transform: Identity(), rawByCam: make(map[int32][]rawSample)}
}

// SetTransform installs the active field transform.
func (w *Writer) SetTransform(t FieldTransform) { w.transform = t }

// RecordRawDetection appends a raw ball detection to the per-camera echo
// history, pruning samples older than 0.2s relative to t.
func (w *Writer) RecordRawDetection(cameraID int32, pos geom.Vec2, t int64) {
	samples := append(w.rawByCam[cameraID], rawSample{pos: pos, t: t})
	kept := samples[:0]
	for _, s := range samples {
		if float64(t-s.t)/1e9 <= 0.2 {
			kept = append(kept, s)
		}
	}
	w.rawByCam[cameraID] = kept
}

// rawEchoes builds the RawEcho list: each camera's freshest sample paired
// with the inter-frame velocity derived from its immediate predecessor.
func (w *Writer) rawEchoes() []RawEcho {
	var echoes []RawEcho
	for cam, samples := range w.rawByCam {
		if len(samples) == 0 {
			continue
		}
		latest := samples[len(samples)-1]
		var vel geom.Vec2
		if len(samples) >= 2 {
			prev := samples[len(samples)-2]
			dt := float64(latest.t-prev.t) / 1e9
			if dt > 0 {
				vel = latest.pos.Sub(prev.pos).Scale(1 / dt)
			}
		}
		echoes = append(echoes, RawEcho{CameraID: cam, Pos: w.transform.Apply(latest.pos), Time: latest.t, Velocity: vel})
	}
	return echoes
}

// Query assembles the world-state record for a requested prediction time.
func (w *Writer) Query(now int64, cfg config.Config, balls *ball.BallTrackerSet, robots *robot.RobotTrackerSet, snapshots []ball.RobotSnapshot) State {
	state := State{RawBalls: w.rawEchoes()}

	for _, id := range robots.Identities() {
		f := robots.Best(id, -1)
		if f == nil {
			continue
		}
		pos, phi, vel, omega := f.PredictTo(now, cfg)
		state.Robots = append(state.Robots, RobotState{
			Identity:    id,
			Pos:         w.transform.Apply(pos),
			Orientation: w.transform.ApplyOrientation(phi),
			Vel:         w.transform.Apply(vel),
			Omega:       omega,
		})
	}

	if bt := balls.Best(); bt != nil {
		pos, vel, bouncing, touchdown := bt.WriteBallState(now, cfg, snapshots)
		bs := BallState{
			Pos:        w.transform.ApplyVec3(pos),
			Vel:        w.transform.ApplyVec3(vel),
			IsBouncing: bouncing,
		}
		if touchdown != nil {
			td := w.transform.Apply(*touchdown)
			bs.Touchdown = &td
		}
		state.Ball = bs
	}

	return state
}

// shootCommandFrom converts the filter's last actuator command to the ball
// subsystem's ShootCommand vocabulary, used to feed shot reconstruction with
// the robot's own report of its kick rather than relying purely on ball
// kinematics.
func shootCommandFrom(f *robot.RobotFilter) (ball.ShootCommand, float64) {
	cmd, ok := f.LastCommand()
	if !ok {
		return ball.ShootNone, 0
	}
	switch cmd.KickStyle {
	case robot.KickChip:
		return ball.ShootChip, cmd.KickPower
	case robot.KickLinear:
		return ball.ShootLinear, cmd.KickPower
	default:
		return ball.ShootNone, 0
	}
}

// maxRobotsPerTeam bounds the per-team robot ID space so robotIdentifier
// can fold (team,id) into a single int32 without collisions between teams
// that happen to field the same numeric ID, which the ball subsystem's
// RobotSnapshot.ID otherwise can't tell apart.
const maxRobotsPerTeam = 32

// robotIdentifier folds a robot.Identity into the single int32 the ball
// subsystem uses to key RobotSnapshot and dribble-offset bindings.
func robotIdentifier(id robot.Identity) int32 {
	return int32(id.Team)*maxRobotsPerTeam + id.ID
}

// RobotSnapshots builds the ball subsystem's RobotSnapshot borrows for this
// tick from the live robot tracker set. Borrows are scoped to the tick.
func RobotSnapshots(now int64, cfg config.Config, robots *robot.RobotTrackerSet) []ball.RobotSnapshot {
	var out []ball.RobotSnapshot
	for _, id := range robots.Identities() {
		f := robots.Best(id, -1)
		if f == nil {
			continue
		}
		pos, phi, vel, omega := f.PredictTo(now, cfg)
		shootCmd, shootPower := shootCommandFrom(f)
		out = append(out, ball.RobotSnapshot{
			ID:              robotIdentifier(id),
			Pos:             pos,
			DribblerPos:     pos.Add(geom.FromPolar(cfg.RobotRadius, phi)),
			Orientation:     phi,
			Velocity:        vel,
			AngularVelocity: omega,
			DribblerActive:  f.DribblerActive(),
			ShootCommand:    shootCmd,
			ShootPower:      shootPower,
		})
	}
	return out
}
