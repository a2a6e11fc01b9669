// Package slam implements the per-frame control loop of a dense visual SLAM
// pipeline.
//
// A Controller pulls one RGB-D frame per Run call, tracks the camera against
// the live reconstruction, resolves the tracking verdict through the session's
// failure mode (relocalise, stop integration or ignore), and then decides
// whether the frame is fused into the scene, only used to refresh the visible
// block list, or discarded with the camera pose rolled back.
//
// Tracking, relocalisation, pose storage and fusion are consumed through the
// capability interfaces in capabilities.go. Concrete implementations live in
// the sibling packages (tracking, reloc, posedb, mapping, view, source) and
// are wired together by package session.
package slam
