package dose

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/pkg/database"
)

// Archive persists per-exposure dose contributions keyed by patient ID,
// so cumulative dose survives across studies and process restarts. The
// patient row is a non-owning reference: the archive never holds study
// state, only delivered dose.
type Archive struct {
	db     *database.DB
	logger *zap.Logger
}

// NewArchive creates the dose archive over the console database, whose
// schema the database layer guarantees on open
func NewArchive(db *database.DB, logger *zap.Logger) *Archive {
	return &Archive{db: db, logger: logger}
}

// RecordDose appends one delivered dose contribution
func (a *Archive) RecordDose(patientID, studyID string, doseMAs float64) error {
	return a.db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO patient_dose (patient_id, study_id, dose_mas, recorded_at) VALUES (?, ?, ?, ?)`,
			patientID, studyID, doseMAs, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("failed to record dose for patient %s: %w", patientID, err)
		}
		return nil
	})
}

// CumulativeForPatient returns the total delivered dose across all of a
// patient's studies
func (a *Archive) CumulativeForPatient(patientID string) (float64, error) {
	var total float64
	err := a.db.QueryRow(
		`SELECT COALESCE(SUM(dose_mas), 0) FROM patient_dose WHERE patient_id = ?`,
		patientID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to query cumulative dose for patient %s: %w", patientID, err)
	}
	return total, nil
}

// CumulativeForStudy returns the total delivered dose archived for one study
func (a *Archive) CumulativeForStudy(studyID string) (float64, error) {
	var total float64
	err := a.db.QueryRow(
		`SELECT COALESCE(SUM(dose_mas), 0) FROM patient_dose WHERE study_id = ?`,
		studyID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to query cumulative dose for study %s: %w", studyID, err)
	}
	return total, nil
}
