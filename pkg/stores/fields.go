package stores

import (
	"fmt"
	"time"

	"github.com/codepool/codepool/pkg/engine"
)

// RecordUpdate carries loosely typed values; each backend normalizes them
// through these helpers before writing.

func fieldAsString(f engine.FieldName, v interface{}) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case engine.CodeStatus:
		return string(s), nil
	default:
		return "", fmt.Errorf("field %s: expected string, got %T", f, v)
	}
}

func fieldAsStatus(f engine.FieldName, v interface{}) (engine.CodeStatus, error) {
	switch s := v.(type) {
	case engine.CodeStatus:
		return s, nil
	case string:
		return engine.CodeStatus(s), nil
	default:
		return "", fmt.Errorf("field %s: expected status, got %T", f, v)
	}
}

func fieldAsTime(f engine.FieldName, v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("field %s: nil time", f)
		}
		return *t, nil
	default:
		return time.Time{}, fmt.Errorf("field %s: expected time, got %T", f, v)
	}
}

func fieldAsOutputs(f engine.FieldName, v interface{}) ([]engine.Output, error) {
	outs, ok := v.([]engine.Output)
	if !ok {
		return nil, fmt.Errorf("field %s: expected outputs, got %T", f, v)
	}
	return outs, nil
}
