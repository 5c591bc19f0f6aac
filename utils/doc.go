// Package utils provides internal utility functions for the transitperf
// pipeline. This package is not intended to be imported by external code.
//
// It contains:
//   - Clock-time parsing and formatting for schedule values
//   - Great-circle distance calculation
//   - Shared constants
package utils
