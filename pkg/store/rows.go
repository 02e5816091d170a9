package store

import (
	"github.com/formcanvas/sheetsync/pkg/models"
)

// withDefaults returns the schema's default row overlaid with row.
func withDefaults(schema models.Schema, row models.Row) models.Row {
	out := models.DefaultRowFor(schema)
	for k, v := range row {
		out[k] = v
	}
	return out
}

func shiftNotesAfterDelete(notes map[int]models.CalibrationNote, deleted int) map[int]models.CalibrationNote {
	out := make(map[int]models.CalibrationNote, len(notes))
	for i, n := range notes {
		switch {
		case i < deleted:
			out[i] = n
		case i > deleted:
			out[i-1] = n
		}
	}
	return out
}

func shiftNotesAfterInsert(notes map[int]models.CalibrationNote, inserted int) map[int]models.CalibrationNote {
	out := make(map[int]models.CalibrationNote, len(notes))
	for i, n := range notes {
		if i >= inserted {
			out[i+1] = n
			continue
		}
		out[i] = n
	}
	return out
}
