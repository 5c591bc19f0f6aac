// Package report renders distribution charts from per-visit measures
// for quick visual review alongside the tabular exports.
package report
