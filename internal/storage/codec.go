package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"covsim/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned returns the version header stamped on records written by this build.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeCycleSummary(summary model.CycleSummary) ([]byte, error) {
	return json.Marshal(summary)
}

func DecodeCycleSummary(data []byte) (model.CycleSummary, error) {
	var summary model.CycleSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.CycleSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.CycleSummary{}, err
	}
	return summary, nil
}

func EncodeSelected(selected []model.SelectedSequence) ([]byte, error) {
	return json.Marshal(selected)
}

func DecodeSelected(data []byte) ([]model.SelectedSequence, error) {
	var selected []model.SelectedSequence
	if err := json.Unmarshal(data, &selected); err != nil {
		return nil, err
	}
	for _, item := range selected {
		if err := checkVersion(item.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return selected, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}

// validateCycle rejects writes whose records disagree on run or cycle.
func validateCycle(summary model.CycleSummary, selected []model.SelectedSequence) error {
	if summary.RunID == "" {
		return errors.New("cycle summary requires a run id")
	}
	for _, item := range selected {
		if item.RunID != summary.RunID || item.Cycle != summary.Cycle {
			return fmt.Errorf("selected sequence %s belongs to run %s cycle %d, not run %s cycle %d",
				item.ID, item.RunID, item.Cycle, summary.RunID, summary.Cycle)
		}
	}
	return nil
}
