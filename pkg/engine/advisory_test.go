package engine_test

import (
	"errors"
	"testing"

	"github.com/codepool/codepool/pkg/engine"
)

func TestAdvisoryOK(t *testing.T) {
	if !engine.AdvisoryOf(true, nil).OK() {
		t.Error("attempted success must be OK")
	}
	if engine.AdvisoryOf(true, errors.New("boom")).OK() {
		t.Error("attempted failure must not be OK")
	}
	if engine.AdvisorySkipped[bool]().OK() {
		t.Error("a skipped side effect must not be OK")
	}
}

func TestAdvisorySkippedZeroValue(t *testing.T) {
	var a engine.Advisory[bool]
	if a.Attempted || a.OK() {
		t.Error("the zero value must read as skipped")
	}
}
