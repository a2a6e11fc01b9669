// Package tracking builds the camera trackers a SLAM session can use.
package tracking

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/slamframe/internal/slam"
)

// TrackerType names a tracker implementation.
type TrackerType string

const (
	// TypeTrajectory follows an external pose feed.
	TypeTrajectory TrackerType = "trajectory"
	// TypeComposite runs several trackers in sequence.
	TypeComposite TrackerType = "composite"
	// TypeRift tracks a head-mounted display.
	TypeRift TrackerType = "rift"
	// TypeRobustVicon refines motion-capture poses against the scene.
	TypeRobustVicon TrackerType = "robust_vicon"
	// TypeVicon follows a motion-capture system.
	TypeVicon TrackerType = "vicon"
)

var (
	// ErrTrackerUnavailable is returned for tracker types whose hardware
	// support is not built into this binary.
	ErrTrackerUnavailable = errors.New("tracker support not available")
	// ErrUnknownTracker is returned for unrecognised tracker type names.
	ErrUnknownTracker = errors.New("unknown tracker type")
)

// ParseTrackerType validates a tracker type name.
func ParseTrackerType(s string) (TrackerType, error) {
	switch t := TrackerType(s); t {
	case TypeTrajectory, TypeComposite, TypeRift, TypeRobustVicon, TypeVicon:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTracker, s)
}

// Params are key=value tracker settings.
type Params map[string]string

// ParseParams parses "k=v,k2=v2". Whitespace around keys and values is
// ignored and later keys override earlier ones.
func ParseParams(s string) (Params, error) {
	p := Params{}
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		k, v, ok := strings.Cut(field, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("tracker params: malformed entry %q (want key=value)", field)
		}
		p[k] = strings.TrimSpace(v)
	}
	return p, nil
}

// Float returns the float value of key, or def when it is absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("tracker param %s: %w", key, err)
	}
	return f, nil
}

// Deps are the inputs trackers may draw on.
type Deps struct {
	// Feed supplies poses to trajectory trackers.
	Feed PoseFeed
}

// New builds a tracker. Types whose support is not built in fail with
// ErrTrackerUnavailable; no other tracker is substituted.
func New(t TrackerType, params Params, deps Deps) (slam.Tracker, error) {
	switch t {
	case TypeTrajectory:
		return newTrajectoryFromParams(params, deps)
	case TypeComposite:
		return newCompositeFromParams(params, deps)
	case TypeRift, TypeRobustVicon, TypeVicon:
		return nil, fmt.Errorf("%w: %s", ErrTrackerUnavailable, t)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTracker, string(t))
}

func newTrajectoryFromParams(params Params, deps Deps) (*TrajectoryTracker, error) {
	if deps.Feed == nil {
		return nil, fmt.Errorf("%w: pose feed for %s tracker", slam.ErrMissingCollaborator, TypeTrajectory)
	}
	maxStep, err := params.Float("max_step_m", 0)
	if err != nil {
		return nil, err
	}
	maxRot, err := params.Float("max_rotation_rad", 0)
	if err != nil {
		return nil, err
	}
	if maxStep < 0 || maxRot < 0 {
		return nil, fmt.Errorf("tracker params: step limits must be non-negative")
	}
	tr := NewTrajectoryTracker(deps.Feed)
	tr.MaxStep = maxStep
	tr.MaxRotation = maxRot
	return tr, nil
}

// newCompositeFromParams reads the member list from the "children" param,
// separated by ";". The remaining params are passed to every member.
func newCompositeFromParams(params Params, deps Deps) (*CompositeTracker, error) {
	spec, ok := params["children"]
	if !ok || strings.TrimSpace(spec) == "" {
		return nil, errors.New("composite tracker: children param is required")
	}
	childParams := Params{}
	for k, v := range params {
		if k != "children" {
			childParams[k] = v
		}
	}
	var members []slam.Tracker
	for _, name := range strings.Split(spec, ";") {
		t, err := ParseTrackerType(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("composite tracker: %w", err)
		}
		if t == TypeComposite {
			return nil, errors.New("composite tracker: members cannot be composite")
		}
		m, err := New(t, childParams, deps)
		if err != nil {
			return nil, fmt.Errorf("composite tracker: %w", err)
		}
		members = append(members, m)
	}
	return NewCompositeTracker(members...), nil
}
