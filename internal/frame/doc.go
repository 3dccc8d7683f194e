// Package frame reduces a captured (ambient, laser) image pair to the laser
// line position on every image row.
//
// Responsibilities: difference imaging, speckle removal by morphological
// opening, binarisation, and the two line-extraction algorithms (compact and
// weighted). Key types: Pair, Params, Extraction, Kind.
package frame
