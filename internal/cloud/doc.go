// Package cloud turns extracted laser lines into world-space points and
// collects them into a point cloud.
//
// Responsibilities: triangulation against a calibration.WorldLookup and the
// turntable angle, cylindrical range filtering, append-only accumulation
// that is safe to read while a scan is running, and ASC/PLY export.
// Key types: Point, Batch, Bounds, Accumulator, Cloud.
//
// Dependency rule: cloud may import calibration, frame and security.
package cloud
