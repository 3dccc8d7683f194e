// Package scanner runs a turntable scan.
//
// A Scanner owns two goroutines per scan. The capture loop drives the board
// and camera: ambient frame, one frame per enabled laser, turntable step.
// The processing loop reduces each frame to laser lines, triangulates them,
// filters by range and appends to the point cloud. The loops share only the
// bounded frame queue and a few atomic flags. Processed batches are offered
// on Results without blocking; the accumulated cloud is always complete.
//
// Key types: Scanner, Device, Options, Result.
//
// Dependency rule: scanner may import calibration, camera, cloud, config,
// frame, monitoring and timeutil; nothing in internal/ imports scanner except
// the publishing, storage and API layers.
package scanner
