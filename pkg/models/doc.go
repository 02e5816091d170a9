// Package models defines the sheet data model shared by the store, the
// protocol codec and the session layer.
//
// Rows are positional: a [Row] is identified only by its index in
// [Table.Rows], so inserting or removing a row shifts every
// [CalibrationNote] attached to a later row.
package models
