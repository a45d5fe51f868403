package device

import (
	"fmt"

	"github.com/pkg/errors"
)

// TransferDirection is the declared direction of a datatype's files
type TransferDirection int

const (
	// DirectionUnspecified means the manifest does not declare a
	// direction; callers assume the file may be written to the unit
	DirectionUnspecified TransferDirection = iota
	InputToUnit
	OutputFromUnit
	InputOutput
)

// ParseTransferDirection maps a manifest direction string to a
// TransferDirection, failing on anything outside the closed set
func ParseTransferDirection(s string) (TransferDirection, error) {
	switch s {
	case "InputToUnit":
		return InputToUnit, nil
	case "OutputFromUnit":
		return OutputFromUnit, nil
	case "InputOutput":
		return InputOutput, nil
	default:
		return DirectionUnspecified, fmt.Errorf("invalid transfer direction: %q", s)
	}
}

func (d TransferDirection) String() string {
	switch d {
	case InputToUnit:
		return "InputToUnit"
	case OutputFromUnit:
		return "OutputFromUnit"
	case InputOutput:
		return "InputOutput"
	default:
		return "Unspecified"
	}
}

// FileLocation describes where files of a datatype live on the unit
type FileLocation struct {
	Path           string
	Extension      string
	BaseName       string
	Identifier     string
	Direction      TransferDirection
	SupportsBackup bool
	ExternalPath   string
}

// DatatypeTable maps a datatype key to its file locations, built once per
// manifest parse
type DatatypeTable map[string][]FileLocation

// Resolve returns the single file location of a datatype. The format
// defines no disambiguation rule, so zero or more than one location is a
// hard error.
func (t DatatypeTable) Resolve(key string) (*FileLocation, error) {
	locs, ok := t[key]
	if !ok || len(locs) == 0 {
		return nil, errors.Wrapf(ErrAmbiguousDatatype, "no file location for datatype %s", key)
	}
	if len(locs) > 1 {
		return nil, errors.Wrapf(ErrAmbiguousDatatype, "datatype %s has %d file locations", key, len(locs))
	}
	return &locs[0], nil
}
