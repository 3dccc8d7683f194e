// Package calibration owns the camera/laser geometry of the scanner.
//
// Responsibilities: validating intrinsic and extrinsic calibration, and
// building the per-pixel WorldLookup that maps an image pixel lying on the
// laser plane to a world-space point at zero turntable rotation.
// Key types: Context, WorldLookup, LookupSet.
//
// Dependency rule: calibration depends on nothing else in this module.
package calibration
